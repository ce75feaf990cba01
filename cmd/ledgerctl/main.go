// Command ledgerctl is the operator CLI of the transcription backend: schema
// migrations, account bootstrap, token issuance and usage audits.
package main

import (
	"os"
)

func main() {
	if err := execute(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}
