package sema_test

import (
	"fmt"

	"github.com/cpjreynolds/sema"
)

func Example() {
	// Create a semaphore that represents 5 resources.
	sem := sema.New(5)

	// Claim one of the resources.
	if err := sem.Wait(); err != nil {
		fmt.Println("wait:", err)
		return
	}
	fmt.Println("claimed a resource")

	// Claim one for a limited stretch of code; the deferred Release
	// returns it on every exit path.
	func() {
		g, err := sem.Access()
		if err != nil {
			return
		}
		defer g.Release()
		fmt.Println("claimed a scoped resource")
	}()

	// Return the initially claimed resource.
	sem.Post()
	fmt.Println("released")

	// Output:
	// claimed a resource
	// claimed a scoped resource
	// released
}

func ExampleSemaphore_TryWait() {
	sem := sema.New(1)

	if err := sem.TryWait(); err == nil {
		fmt.Println("got the only permit")
	}
	if err := sem.TryWait(); err != nil {
		fmt.Println("too busy:", err)
	}
	sem.Post()

	// Output:
	// got the only permit
	// too busy: sema: no permit available
}
