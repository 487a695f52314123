// Command gitclienttest is a manual smoke test for the gitclient package.
// It connects to a metadata archive repository, lists its branches and tags,
// and prints the files reachable at one ref.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/sunshinekyo/Common-Metadata-Repository/internal/gitclient"
)

func main() {
	var (
		url      string
		username string
		password string
		ref      string
		dir      string
	)

	flag.StringVar(&url, "url", "", "Repository URL to inspect")
	flag.StringVar(&username, "user", "", "Username for authentication")
	flag.StringVar(&password, "pass", "", "Password or Token for authentication")
	flag.StringVar(&ref, "ref", "", "Reference (branch or tag) to list files from. If empty, uses the default branch.")
	flag.StringVar(&dir, "dir", "", "Directory within the repository to list")
	flag.Parse()

	if url == "" {
		fmt.Println("Error: -url is required")
		flag.Usage()
		os.Exit(1)
	}

	var auth *gitclient.Auth
	if username != "" || password != "" {
		auth = &gitclient.Auth{
			Username: username,
			Password: password,
		}
	}

	client, err := gitclient.New(url, auth)
	if err != nil {
		log.Fatalf("Failed to clone %q: %v", url, err)
	}

	if ref == "" {
		ref, err = client.DefaultBranch()
		if err != nil {
			log.Fatalf("Failed to determine default branch: %v", err)
		}
	}

	// List branches and tags
	refs, err := client.ListReferences()
	if err != nil {
		log.Fatalf("Failed to list references: %v", err)
	}
	if len(refs) == 0 {
		log.Fatalf("No branches or tags found in %q", url)
	}

	fmt.Printf("Branches and tags in %s:\n", url)
	for _, v := range refs {
		fmt.Printf("  %s\n", v)
	}

	// List files for the specified revision
	files, err := client.ListFilesRecursive(ref, dir)
	if err != nil {
		log.Fatalf("Failed to list files for revision %q: %v", ref, err)
	}

	fmt.Printf("\nFiles at revision %q:\n", ref)
	for _, f := range files {
		fmt.Printf("  %s\n", f)
	}
}
