package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"

	qrcode "github.com/skip2/go-qrcode"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	os.Args = append(os.Args[:1], os.Args[2:]...)

	switch cmd {
	case "identity":
		cmdIdentity()
	case "friends":
		cmdFriends()
	case "dm":
		cmdDM()
	case "mentions":
		cmdMentions()
	case "version":
		fmt.Printf("meshctl %s\n", version)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: meshctl <command> [options]

Commands:
  identity    Show identity or export it as JSON / QR code
  friends     List/import/remove friends
  dm          Send, read or clear direct messages
  mentions    Extract @nickname mentions from text
  version     Show version
  help        Show this help`)
}

// client talks to the meshd API.
type client struct {
	addr  string
	token string
}

func commonFlags(fs *flag.FlagSet) (addr, secret *string) {
	addr = fs.String("addr", "http://127.0.0.1:9190", "meshd API address")
	secret = fs.String("secret", os.Getenv("MESHD_SECRET"), "meshd auth secret")
	return
}

func dial(addr, secret string) *client {
	c := &client{addr: addr}
	var resp struct {
		Token string `json:"token"`
	}
	err := c.post("/api/v1/auth/token", map[string]string{"secret": secret}, &resp)
	if err != nil {
		fatal(fmt.Errorf("authenticate: %w", err))
	}
	c.token = resp.Token
	return c
}

func (c *client) do(method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.addr+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, e.Error)
		}
		return fmt.Errorf("%s", resp.Status)
	}
	if out != nil && len(data) > 0 {
		return json.Unmarshal(data, out)
	}
	return nil
}

func (c *client) get(path string, out interface{}) error {
	return c.do(http.MethodGet, path, nil, out)
}

func (c *client) post(path string, body, out interface{}) error {
	return c.do(http.MethodPost, path, body, out)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// --- identity ---

func cmdIdentity() {
	fs := flag.NewFlagSet("identity", flag.ExitOnError)
	addr, secret := commonFlags(fs)
	export := fs.Bool("export", false, "print the exchange payload JSON")
	qrOut := fs.String("qr", "", "write the exchange payload as a QR code PNG to this path")
	fs.Parse(os.Args[1:])

	c := dial(*addr, *secret)

	if *export || *qrOut != "" {
		var payload json.RawMessage
		if err := c.get("/api/v1/identity/export", &payload); err != nil {
			fatal(err)
		}
		if *qrOut != "" {
			if err := qrcode.WriteFile(string(payload), qrcode.Medium, 512, *qrOut); err != nil {
				fatal(fmt.Errorf("write qr code: %w", err))
			}
			fmt.Printf("QR code written to %s\n", *qrOut)
		}
		if *export {
			fmt.Println(string(payload))
		}
		return
	}

	var id struct {
		UserID        string `json:"user_id"`
		Fingerprint   string `json:"fingerprint"`
		Ed25519Public string `json:"ed25519_public"`
		X25519Public  string `json:"x25519_public"`
	}
	if err := c.get("/api/v1/identity", &id); err != nil {
		fatal(err)
	}
	fmt.Printf("User ID:     %s\n", id.UserID)
	fmt.Printf("Fingerprint: %s\n", id.Fingerprint)
	fmt.Printf("Ed25519:     %s\n", id.Ed25519Public)
	fmt.Printf("X25519:      %s\n", id.X25519Public)
}

// --- friends ---

func cmdFriends() {
	fs := flag.NewFlagSet("friends", flag.ExitOnError)
	addr, secret := commonFlags(fs)
	importFile := fs.String("import", "", "import a friend from an exchange payload file (- for stdin)")
	nickname := fs.String("nickname", "", "nickname for the imported friend")
	remove := fs.String("remove", "", "remove a friend by user id")
	fs.Parse(os.Args[1:])

	c := dial(*addr, *secret)

	switch {
	case *importFile != "":
		var data []byte
		var err error
		if *importFile == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(*importFile)
		}
		if err != nil {
			fatal(err)
		}
		var resp struct {
			UserID string `json:"user_id"`
		}
		err = c.post("/api/v1/friends", map[string]string{
			"payload":  string(data),
			"nickname": *nickname,
		}, &resp)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Added %s (%s)\n", *nickname, resp.UserID)

	case *remove != "":
		if err := c.do(http.MethodDelete, "/api/v1/friends/"+*remove, nil, nil); err != nil {
			fatal(err)
		}
		fmt.Println("Removed")

	default:
		var resp struct {
			Friends []struct {
				UserID      string `json:"user_id"`
				Nickname    string `json:"nickname"`
				DisplayName string `json:"display_name"`
				Notes       string `json:"notes"`
			} `json:"friends"`
		}
		if err := c.get("/api/v1/friends", &resp); err != nil {
			fatal(err)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NICKNAME\tDISPLAY NAME\tUSER ID\tNOTES")
		for _, f := range resp.Friends {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.Nickname, f.DisplayName, f.UserID[:16], f.Notes)
		}
		w.Flush()
	}
}

// --- dm ---

func cmdDM() {
	fs := flag.NewFlagSet("dm", flag.ExitOnError)
	addr, secret := commonFlags(fs)
	peer := fs.String("peer", "", "peer user id (hex)")
	send := fs.String("send", "", "plaintext to send")
	clear := fs.Bool("clear", false, "clear the channel history")
	limit := fs.Int("limit", 50, "messages to fetch")
	offset := fs.Int("offset", 0, "fetch offset")
	fs.Parse(os.Args[1:])

	if *peer == "" {
		fatal(fmt.Errorf("-peer is required"))
	}
	c := dial(*addr, *secret)
	base := "/api/v1/dm/" + *peer + "/messages"

	switch {
	case *send != "":
		var resp struct {
			MessageID string `json:"message_id"`
		}
		if err := c.post(base, map[string]string{"plaintext": *send}, &resp); err != nil {
			fatal(err)
		}
		fmt.Printf("Sent %s\n", resp.MessageID[:16])

	case *clear:
		if err := c.do(http.MethodDelete, base, nil, nil); err != nil {
			fatal(err)
		}
		fmt.Println("Cleared")

	default:
		var resp struct {
			Messages []struct {
				Plaintext string `json:"plaintext"`
				Timestamp int64  `json:"timestamp"`
				IsSent    bool   `json:"is_sent"`
			} `json:"messages"`
		}
		path := fmt.Sprintf("%s?limit=%d&offset=%d", base, *limit, *offset)
		if err := c.get(path, &resp); err != nil {
			fatal(err)
		}
		for _, m := range resp.Messages {
			dir := "<-"
			if m.IsSent {
				dir = "->"
			}
			fmt.Printf("%d %s %s\n", m.Timestamp, dir, m.Plaintext)
		}
	}
}

// --- mentions ---

func cmdMentions() {
	fs := flag.NewFlagSet("mentions", flag.ExitOnError)
	addr, secret := commonFlags(fs)
	text := fs.String("text", "", "text to scan")
	fs.Parse(os.Args[1:])

	c := dial(*addr, *secret)
	var resp struct {
		Mentions []struct {
			UserID   string `json:"user_id"`
			Nickname string `json:"nickname"`
		} `json:"mentions"`
	}
	if err := c.post("/api/v1/mentions", map[string]string{"text": *text}, &resp); err != nil {
		fatal(err)
	}
	for _, m := range resp.Mentions {
		fmt.Printf("@%s %s\n", m.Nickname, m.UserID)
	}
}
