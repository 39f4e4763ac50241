// Command lox runs the lox interpreter.
//
// With no arguments it starts an interactive REPL; with one argument it
// executes that file. Exit codes follow the sysexits convention: 64 for
// bad usage, 65 for a compile error, 70 for a runtime error, 74 for a
// file that could not be read.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/kristofer/lox/pkg/vm"
)

// maxLineLength caps a single line of REPL input.
const maxLineLength = 1024

func main() {
	machine := vm.New()

	switch len(os.Args) {
	case 1:
		repl(machine)
	case 2:
		runFile(machine, os.Args[1])
	default:
		fmt.Fprintf(os.Stderr, "Usage: lox [path]\n")
		os.Exit(64)
	}
}

// repl reads a line at a time from stdin and interprets each one.
// Globals persist across lines because the machine does. Errors are
// reported and the loop continues.
func repl(machine *vm.VM) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, maxLineLength), maxLineLength)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			break
		}
		machine.Interpret(scanner.Text())
	}
}

// runFile interprets a whole source file and exits with the appropriate
// code on failure.
func runFile(machine *vm.VM, path string) {
	source, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not open file %q.\n", path)
		os.Exit(74)
	}

	switch machine.Interpret(string(source)) {
	case vm.InterpretCompileError:
		os.Exit(65)
	case vm.InterpretRuntimeError:
		os.Exit(70)
	}
}
