package cmd

import (
	"fmt"
	"io"
)

const banner = `
         _                _   _     
  ____  | | __  __ _  _  | |_| |__  
 |_  /  | |/ / / _' || | | __| '_ \ 
  / /   |   < | (_| || |_| |_| | | |
 /___|  |_|\_\ \__,_| \__,_|\__|_| |_|
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m\n", banner)
	fmt.Fprintf(w, "\x1b[32m  Zero-knowledge password login - Version %s\x1b[0m\n\n", Version)
}
