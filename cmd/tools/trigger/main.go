package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// trigger starts a scheduling cycle on a running server and prints the poll URL.
func main() {
	adminSecret := strings.TrimSpace(os.Getenv("ADMIN_SECRET"))
	if adminSecret == "" {
		fmt.Println("Missing ADMIN_SECRET environment variable")
		os.Exit(1)
	}

	base := strings.TrimSpace(os.Getenv("FARE_API"))
	if base == "" {
		base = "http://localhost:8081"
	}
	url := strings.TrimRight(base, "/") + "/api/v1/admin/cycle"
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("X-Admin-Secret", adminSecret)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("Response Status: %s\n%s\n", resp.Status, strings.TrimSpace(string(body)))
	if resp.StatusCode != http.StatusAccepted {
		os.Exit(1)
	}
}
