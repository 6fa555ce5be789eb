package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"lastagent/app/core/interaction/gateway"
	"lastagent/app/pkg/types"
)

// CLIChannel is an interactive stdin loop: each line becomes a synchronous
// task submission and the result is printed inline.
type CLIChannel struct {
	id      string
	gateway *gateway.Gateway
	in      io.Reader
}

func NewCLIChannel(gw *gateway.Gateway) *CLIChannel {
	return &CLIChannel{id: "cli", gateway: gw, in: os.Stdin}
}

func (c *CLIChannel) ID() string {
	return c.id
}

// Start reads lines until ctx is cancelled or the input closes. The scanner
// runs in its own goroutine so a blocked read never holds up shutdown.
func (c *CLIChannel) Start(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	fmt.Println(">> LastAgent CLI started. Type 'exit' to quit.")
	for {
		fmt.Print("> ")
		var text string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErr:
			return err
		case text = <-lines:
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if text == "exit" || text == "quit" {
			fmt.Println("Exiting CLI loop...")
			return nil
		}

		task, err := c.gateway.Submit(ctx, types.TaskRequest{
			UserPrompt: text,
			Meta:       map[string]string{"channel": c.id},
		})
		if err != nil {
			fmt.Printf("[error]: %v\n", err)
			continue
		}

		switch {
		case task.Result != nil && task.Result.Success:
			fmt.Printf("[%s][%s]: %s\n", task.Selection.SelectedAgent, task.Status, task.Result.Response)
		case task.Result != nil:
			fmt.Printf("[task:%s][%s] %s: %s\n", task.ID, task.Status, task.Result.ErrorKind, task.Result.Error)
		default:
			fmt.Printf("[task:%s] finished %s\n", task.ID, task.Status)
		}
	}
}
