package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/omochice/chat-relay/internal/client"
	"github.com/omochice/chat-relay/pkg/protocol"
)

func main() {
	serverAddr := flag.String("server", "localhost:8080", "Server address (e.g., localhost:8080)")
	username := flag.String("username", "", "Username for chat")
	flag.Parse()

	if *username == "" {
		log.Fatal("Username is required. Use -username flag")
	}

	c := client.New(*serverAddr)
	if err := c.Connect(); err != nil {
		log.Fatalf("Failed to connect to server: %v", err)
	}
	defer c.Close()

	log.Printf("Connected to %s", *serverAddr)

	if err := c.Login(*username); err != nil {
		log.Fatalf("Failed to log in: %v", err)
	}

	// Receive and display server traffic
	go func() {
		for line := range c.Lines() {
			printLine(line)
		}
		fmt.Println("*** disconnected ***")
		os.Exit(0)
	}()

	fmt.Println("Type your messages (or 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		if text == "quit" || text == "exit" {
			if err := c.Quit(); err != nil {
				log.Printf("Failed to send quit: %v", err)
			}
			break
		}

		if err := c.Broadcast(text); err != nil {
			log.Printf("Failed to send message: %v", err)
		}
	}

	if err := scanner.Err(); err != nil {
		log.Printf("Error reading input: %v", err)
	}

	log.Println("Disconnected from server")
}

// printLine renders one server line for the terminal.
func printLine(line string) {
	cmd, payload := protocol.ParseCommand(line)
	switch cmd {
	case protocol.CmdBroadcast:
		sender, text, _ := strings.Cut(payload, " ")
		fmt.Printf("[%s]: %s\n", sender, text)
	case protocol.CmdInit:
		fmt.Printf("*** %s ***\n", payload)
	case protocol.CmdPing:
		// answered automatically by the client library
	case protocol.CmdDisconnect:
		fmt.Printf("*** disconnected by server: %s ***\n", payload)
	default:
		fmt.Println(line)
	}
}
