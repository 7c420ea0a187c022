// Command indexctl manages the article index from the command line.
package main

import "article-finder/internal/cli"

func main() {
	cli.Execute()
}
