// Command joblens discovers job postings from a paginated search engine and
// enriches them through a staged processing pipeline.
package main

import "github.com/joblens/joblens/cmd"

func main() {
	cmd.Execute()
}
