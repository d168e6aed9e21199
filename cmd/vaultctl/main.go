package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"blob-vault/internal/security"
)

var version = "dev"

type ctlConfig struct {
	VaultURL  string
	Token     string
	APISecret string
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Blob Vault CLI %s\n\n", version)
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  vaultctl <command> [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  upload <path>        Upload a file\n")
		fmt.Fprintf(os.Stderr, "  download <id>        Download a file to stdout or -o\n")
		fmt.Fprintf(os.Stderr, "  list                 List stored files\n")
		fmt.Fprintf(os.Stderr, "  report               Queue an inventory report (signed)\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  VAULT_URL    Server base URL (default http://localhost:8080)\n")
		fmt.Fprintf(os.Stderr, "  VAULT_TOKEN  Bearer session token from /auth/login\n")
		fmt.Fprintf(os.Stderr, "  API_SECRET   Shared secret for signed report requests\n")
	}

	showVersion := flag.Bool("version", false, "Show version")
	out := flag.String("o", "", "Output path for download")
	format := flag.String("format", "csv", "Report format (csv, json, excel, pdf)")
	emailTo := flag.String("email", "", "Report notification recipient")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Blob Vault CLI %s\n", version)
		os.Exit(0)
	}

	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	cfg := ctlConfig{
		VaultURL:  os.Getenv("VAULT_URL"),
		Token:     os.Getenv("VAULT_TOKEN"),
		APISecret: os.Getenv("API_SECRET"),
	}
	if cfg.VaultURL == "" {
		cfg.VaultURL = "http://localhost:8080"
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "upload":
		if len(args) < 2 {
			err = fmt.Errorf("upload requires a path")
			break
		}
		err = upload(cfg, args[1])
	case "download":
		if len(args) < 2 {
			err = fmt.Errorf("download requires a file id")
			break
		}
		err = download(cfg, args[1], *out)
	case "list":
		err = list(cfg)
	case "report":
		err = report(cfg, *format, *emailTo)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		slog.Error("Command failed", "command", args[0], "error", err)
		os.Exit(1)
	}
}

func authed(cfg ctlConfig, req *http.Request) *http.Request {
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}
	return req
}

func upload(cfg ctlConfig, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequest(http.MethodPost, cfg.VaultURL+"/files", pr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := http.DefaultClient.Do(authed(cfg, req))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}

func download(cfg ctlConfig, id, out string) error {
	req, err := http.NewRequest(http.MethodGet, cfg.VaultURL+"/files/"+id, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(authed(cfg, req))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}

	dst := os.Stdout
	if out != "" {
		dst, err = os.Create(out)
		if err != nil {
			return err
		}
		defer dst.Close()
	}

	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		return err
	}
	slog.Info("Downloaded", "id", id, "bytes", n)
	return nil
}

func list(cfg ctlConfig) error {
	req, err := http.NewRequest(http.MethodGet, cfg.VaultURL+"/files", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(authed(cfg, req))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}

func report(cfg ctlConfig, format, emailTo string) error {
	if cfg.APISecret == "" {
		return fmt.Errorf("API_SECRET is required for report requests")
	}

	body, err := json.Marshal(map[string]string{"format": format, "email": emailTo})
	if err != nil {
		return err
	}

	ts := fmt.Sprintf("%d", time.Now().Unix())
	req, err := http.NewRequest(http.MethodPost, cfg.VaultURL+"/admin/report", strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", security.Sign(cfg.APISecret, http.MethodPost, "/admin/report", string(body), ts))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}
