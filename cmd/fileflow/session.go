package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"fileflow/internal/app"
	"fileflow/internal/model"
)

var stdin = bufio.NewReader(os.Stdin)

var errNotLoggedIn = errors.New("not logged in; run `fileflow login EMAIL` first")

func credentialPath() (string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return "", fmt.Errorf("getting defaults: %w", err)
	}
	return defaults["credential_path"], nil
}

func saveCredential(credential string) error {
	path, err := credentialPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating credential directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(credential+"\n"), 0600); err != nil {
		return fmt.Errorf("saving credential: %w", err)
	}
	return nil
}

func loadCredential() (string, error) {
	path, err := credentialPath()
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", errNotLoggedIn
	}
	if err != nil {
		return "", fmt.Errorf("reading credential: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func removeCredential() error {
	path, err := credentialPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing credential: %w", err)
	}
	return nil
}

// withSession opens the app, resolves the saved credential and runs fn.
// The operation is marked failed if fn returns an error.
func withSession(operation string, fn func(ctx context.Context, a *app.FileFlowApp, user *model.User) error) error {
	ctx := context.Background()
	a, err := newApp(ctx, operation)
	if err != nil {
		return err
	}
	defer a.Close()

	credential, err := loadCredential()
	if err != nil {
		a.Fail()
		return err
	}
	user, err := a.Session(ctx, credential)
	if err != nil {
		a.Fail()
		return fmt.Errorf("session expired or invalid, log in again: %w", err)
	}
	if err := fn(ctx, a, user); err != nil {
		a.Fail()
		return err
	}
	return nil
}

// readSecret prompts on stderr and reads a line without echo when stdin is
// a terminal.
func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading input: %w", err)
		}
		return string(b), nil
	}
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func readNewSecret(what string) (string, error) {
	first, err := readSecret(what + ": ")
	if err != nil {
		return "", err
	}
	second, err := readSecret("Confirm " + strings.ToLower(what) + ": ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("%s entries do not match", strings.ToLower(what))
	}
	return first, nil
}
