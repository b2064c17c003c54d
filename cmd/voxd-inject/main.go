// Command voxd-inject is a manual test for text injection.
// It waits 3 seconds, then types or pastes test text.
// Focus a text editor before the countdown finishes.
//
// Usage:
//
//	go run ./cmd/voxd-inject [--method auto|type|paste]
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/voxd/voxd/internal/inject"
)

func main() {
	method := flag.String("method", "type", "inject method: auto, type or paste")
	text := flag.String("text", "Hello from voxd!", "text to inject")
	flag.Parse()

	fmt.Printf("Will inject %q using %q method in 3 seconds...\n", *text, *method)
	fmt.Println("Focus a text editor now!")

	for i := 3; i > 0; i-- {
		fmt.Printf("%d...\n", i)
		time.Sleep(time.Second)
	}

	inj := inject.NewInjector(inject.Config{
		Method:    *method,
		TypeDelay: 2 * time.Millisecond,
		Settle:    50 * time.Millisecond,
	})
	if err := inj.Inject(*text); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Println("\nDone!")
}
