// Command csvctl imports and exports record types as delimited text
// directly against the database, without the HTTP server.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
