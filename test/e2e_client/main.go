// Command e2e_client drives a running sociallink server through a connect
// flow by hand: it logs in, requests the authorization redirect, and prints
// the URL to open in a browser. Useful against real platform credentials.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "base URL of the sociallink server")
	user := flag.String("user", "e2e-user", "local user id to connect")
	platformName := flag.String("platform", "twitter", "platform to connect (linkedin or twitter)")
	flag.Parse()

	jar, err := cookiejar.New(nil)
	if err != nil {
		log.Fatalf("Failed to create cookie jar: %v", err)
	}
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Post(*server+"/login", "application/x-www-form-urlencoded",
		strings.NewReader(url.Values{"user_id": {*user}}.Encode()))
	if err != nil {
		log.Fatalf("Login failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		log.Fatalf("Login failed with status %d", resp.StatusCode)
	}
	log.Printf("Logged in as %s", *user)

	resp, err = client.Get(*server + "/connect/" + *platformName)
	if err != nil {
		log.Fatalf("Connect failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther {
		log.Fatalf("Connect failed with status %d", resp.StatusCode)
	}

	fmt.Println("Open this URL in a browser to authorize:")
	fmt.Println(resp.Header.Get("Location"))
	fmt.Println()
	fmt.Println("After the callback completes, current accounts:")

	resp, err = client.Get(*server + "/accounts")
	if err != nil {
		log.Fatalf("Listing accounts failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	fmt.Println(string(body))
}
