// Command mediatrack runs media through local and remote tracks wired back to
// back over an in-memory RTP link.
package main

import (
	"log"
)

func main() {
	log.SetFlags(log.Lshortfile)
	Execute()
}
