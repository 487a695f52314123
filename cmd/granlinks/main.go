package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/peterbourgon/ff/v3"
	"github.com/sunshinekyo/Common-Metadata-Repository/internal/config"
	"github.com/sunshinekyo/Common-Metadata-Repository/internal/gitclient"
	"github.com/sunshinekyo/Common-Metadata-Repository/internal/granule"
	"github.com/sunshinekyo/Common-Metadata-Repository/internal/links"
	"github.com/sunshinekyo/Common-Metadata-Repository/internal/repo"
	"github.com/sunshinekyo/Common-Metadata-Repository/internal/report"
	"github.com/sunshinekyo/Common-Metadata-Repository/internal/store"
	"github.com/sunshinekyo/Common-Metadata-Repository/internal/tasks"
	"github.com/sunshinekyo/Common-Metadata-Repository/internal/web"
)

var (
	// Version is the application version.
	// It is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
)

func gitClientAuthFromEnv() *gitclient.Auth {
	user := os.Getenv("GRANLINKS_GIT_USER")
	if user == "" {
		return nil
	}
	pass := os.Getenv("GRANLINKS_GIT_PASSWORD")
	return &gitclient.Auth{
		Username: user,
		Password: pass,
	}
}

// Options contains program options that can be set via command-line flags or environment variables.
type Options struct {
	Addr        string
	RootDir     string
	MetadataDir string
	GitURL      string
	GitRef      string
	GitDir      string
	ConfigFile  string
	BaseDir     string
}

// registerStoreFlags adds the flags shared by all subcommands that read
// granule metadata from a store.
func registerStoreFlags(fs *flag.FlagSet, opts *Options) {
	fs.StringVar(&opts.RootDir, "root-dir", ".", "Root directory of the local metadata store")
	fs.StringVar(&opts.MetadataDir, "metadata-dir", "granules", "Path to the directory containing granule metadata files (relative to git root or local -root-dir)")
	fs.StringVar(&opts.ConfigFile, "config", "granlinks.yml", "Path to the configuration YAML file (relative to git root or local -root-dir)")
	fs.StringVar(&opts.GitURL, "git-url", "", "URL of the git repository to use as the metadata store")
	fs.StringVar(&opts.GitRef, "git-ref", "", "Git ref (branch or tag) to read. If empty, uses the default branch.")
	fs.StringVar(&opts.GitDir, "git-dir", "", "Subdirectory of the git repository to use as the store root")
}

func main() {
	if len(os.Args) < 2 {
		// Default to "serve"
		runServe(os.Args[1:])
		return
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "update":
		runUpdate(os.Args[2:])
	case "report":
		runReport(os.Args[2:])
	case "version":
		fmt.Printf("granlinks %s\n", Version)
	default:
		// Also default to serve if the argument looks like a flag
		if strings.HasPrefix(os.Args[1], "-") {
			runServe(os.Args[1:])
			return
		}
		fmt.Fprintf(os.Stderr, "Unknown command %q. Available commands: serve, update, report, version\n", os.Args[1])
		os.Exit(1)
	}
}

// firstNonEmpty returns the first non-empty string, so flag values can
// take precedence over the configuration file.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func runServe(args []string) {
	var opts Options
	fs := flag.NewFlagSet("granlinks serve", flag.ExitOnError)
	registerStoreFlags(fs, &opts)
	fs.StringVar(&opts.Addr, "addr", "", "Address to listen on (default localhost:8080)")
	fs.StringVar(&opts.BaseDir, "base-dir", "", "Base directory for resource files. If empty, uses embedded resources (recommended for production).")

	err := ff.Parse(fs, args, ff.WithEnvVarPrefix("GRANLINKS"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		os.Exit(1)
	}
	log.Printf("Using config from flags/env vars: %+v", opts)

	st := createStore(opts)

	bundle, err := config.Load(st, opts.ConfigFile)
	if err != nil {
		log.Fatalf("Could not load configuration: %v", err)
	}

	r, err := repo.Load(st, bundle.Links.Matcher(), opts.MetadataDir)
	if err != nil {
		log.Fatalf("Could not load granule metadata: %v", err)
	}

	server, err := web.NewServer(
		web.ServerOptions{
			Addr:    firstNonEmpty(opts.Addr, bundle.Server.Addr, "localhost:8080"),
			BaseDir: firstNonEmpty(opts.BaseDir, bundle.Server.BaseDir),
			Version: Version,
		},
		r,
		st,
		&bundle.Links,
		createTaskStore(bundle),
	)
	if err != nil {
		log.Fatalf("Could not create server: %v", err)
	}

	log.Fatal(server.Serve()) // Never returns
}

func runUpdate(args []string) {
	var opts Options
	fs := flag.NewFlagSet("granlinks update", flag.ExitOnError)
	registerStoreFlags(fs, &opts)

	var linkList, ur, filter string
	var dryRun bool
	fs.StringVar(&linkList, "links", "", "Comma-separated OPeNDAP and S3 URLs to merge into the selected granules (required)")
	fs.StringVar(&ur, "ur", "", "Update the single granule with this UR")
	fs.StringVar(&filter, "filter", "", "Update all granules matching this filter expression")
	fs.BoolVar(&dryRun, "dry-run", false, "Report which granules would change, but do not write any files")

	err := ff.Parse(fs, args, ff.WithEnvVarPrefix("GRANLINKS"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		os.Exit(1)
	}
	if linkList == "" {
		log.Fatalf("-links is required")
	}
	if (ur == "") == (filter == "") {
		log.Fatalf("Exactly one of -ur and -filter must be specified")
	}

	st := createStore(opts)
	bundle, err := config.Load(st, opts.ConfigFile)
	if err != nil {
		log.Fatalf("Could not load configuration: %v", err)
	}
	r, err := repo.Load(st, bundle.Links.Matcher(), opts.MetadataDir)
	if err != nil {
		log.Fatalf("Could not load granule metadata: %v", err)
	}

	set, err := links.Parse(linkList, bundle.Links.Matcher())
	if err != nil {
		log.Fatalf("Invalid -links: %v", err)
	}
	if err := bundle.Links.AcceptHosts(set); err != nil {
		log.Fatalf("Invalid -links: %v", err)
	}

	var targets []*granule.Record
	if ur != "" {
		rec := r.Granule(ur)
		if rec == nil {
			log.Fatalf("No granule with UR %q found", ur)
		}
		targets = []*granule.Record{rec}
	} else {
		targets, err = r.Find(filter)
		if err != nil {
			log.Fatalf("Invalid -filter: %v", err)
		}
	}

	var updated, skipped, failed int
	for _, rec := range targets {
		newRepo, newRec, err := r.ApplyLinkUpdate(rec.UR, set)
		if err != nil {
			failed++
			fmt.Printf("FAILED   %s: %v\n", rec.UR, err)
			continue
		}
		if bytes.Equal(rec.Data, newRec.Data) {
			skipped++
			fmt.Printf("SKIPPED  %s\n", rec.UR)
			continue
		}
		if dryRun {
			updated++
			fmt.Printf("UPDATED  %s (dry run)\n", rec.UR)
			continue
		}
		if err := store.WriteRecord(st, newRec); err != nil {
			failed++
			fmt.Printf("FAILED   %s: %v\n", rec.UR, err)
			continue
		}
		r = newRepo
		updated++
		fmt.Printf("UPDATED  %s\n", rec.UR)
	}
	fmt.Printf("%d granules: %d updated, %d skipped, %d failed\n", len(targets), updated, skipped, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func runReport(args []string) {
	var opts Options
	fs := flag.NewFlagSet("granlinks report", flag.ExitOnError)
	registerStoreFlags(fs, &opts)

	var outputDir string
	fs.StringVar(&outputDir, "out-dir", "report", "Output directory for the Markdown report")

	err := ff.Parse(fs, args, ff.WithEnvVarPrefix("GRANLINKS"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		os.Exit(1)
	}

	st := createStore(opts)
	bundle, err := config.Load(st, opts.ConfigFile)
	if err != nil {
		log.Fatalf("Could not load configuration: %v", err)
	}
	r, err := repo.Load(st, bundle.Links.Matcher(), opts.MetadataDir)
	if err != nil {
		log.Fatalf("Could not load granule metadata: %v", err)
	}

	gen := report.NewGenerator(r)
	if err := gen.Generate(outputDir); err != nil {
		log.Fatalf("Failed to generate report: %v", err)
	}
	log.Printf("Report generated in %q", outputDir)
}

func createStore(opts Options) store.Store {
	if opts.GitURL != "" {
		auth := gitClientAuthFromEnv()
		log.Printf("Retrieving metadata from git URL %s", opts.GitURL)
		client, err := gitclient.New(opts.GitURL, auth)
		if err != nil {
			log.Fatalf("Failed to retrieve git repo: %v", err)
		}
		ref := opts.GitRef
		if ref == "" {
			ref, err = client.DefaultBranch()
			if err != nil {
				log.Fatalf("No git-ref specified and no default branch found: %v", err)
			}
		}
		log.Printf("Using git ref %q", ref)
		src := store.NewGitSource(client, ref, opts.GitDir)
		st, err := src.Store("")
		if err != nil {
			log.Fatalf("Failed to open git ref %q: %v", ref, err)
		}
		return st
	} else if opts.RootDir != "" {
		log.Printf("Using local store at %s", opts.RootDir)
		return store.NewDiskStore(opts.RootDir)
	} else {
		log.Fatalf("Neither -root-dir nor -git-url specified")
		return nil
	}
}

func createTaskStore(bundle *config.Bundle) tasks.Store {
	if bundle.Tasks.Dir == "" {
		// Task state is discarded. Configure tasks.dir to persist it.
		return tasks.NewEmptyStore()
	}
	fileStore, err := tasks.NewFileStore(bundle.Tasks.Dir)
	if err != nil {
		log.Fatalf("Could not create task store: %v", err)
	}
	log.Printf("Persisting task state in %s", bundle.Tasks.Dir)
	return tasks.NewCachingStore(fileStore)
}
