// Команда hashgen печатает bcrypt хеш пароля для API_AUTH_PASSWORD_HASH.
//
// Пароль передается аргументом или читается со стандартного ввода:
//
//	hashgen 'secret'
//	echo -n 'secret' | hashgen
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"straddle/pkg/crypto"
)

func main() {
	password, err := readPassword()
	if err != nil {
		fmt.Fprintf(os.Stderr, "hashgen: %v\n", err)
		os.Exit(1)
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hashgen: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(hash)
}

func readPassword() (string, error) {
	if len(os.Args) > 1 {
		return os.Args[1], nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
