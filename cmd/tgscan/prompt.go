package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/hrygo/tgscan/account"
)

// codePrompt reads a login code from the terminal.
func codePrompt(phone string) account.CodeFunc {
	return func(ctx context.Context) (string, error) {
		fmt.Printf("Enter the login code sent to %s: ", phone)
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
}

// passwordPrompt reads a 2FA password from the terminal without echo.
func passwordPrompt(phone string) account.PasswordFunc {
	return func(ctx context.Context) (string, error) {
		fmt.Printf("Enter the 2FA password of %s: ", phone)
		data, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}
