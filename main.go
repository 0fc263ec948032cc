package main

import (
	"os"

	"github.com/jonesrussell/marketpulse/cmd/httpd"
)

func main() {
	os.Exit(httpd.Start())
}
