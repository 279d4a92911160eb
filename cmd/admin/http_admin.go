package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

func baseURLFlag(fs *flag.FlagSet) *string {
	return fs.String("url", "http://127.0.0.1:8080", "server base url")
}

func blacklistCmd(args []string) {
	fs := flag.NewFlagSet("blacklist", flag.ExitOnError)
	baseURL := baseURLFlag(fs)
	_ = fs.Parse(args)

	op := "list"
	if fs.NArg() > 0 {
		op = strings.TrimSpace(fs.Arg(0))
	}
	item := strings.TrimSpace(fs.Arg(1))
	u := endpoint(*baseURL, "/admin/v1/blacklist")

	switch op {
	case "list":
		call(http.MethodGet, u, nil, 5*time.Second)
	case "add", "remove":
		if item == "" {
			fmt.Fprintf(os.Stderr, "usage: admin blacklist %s <item>\n", op)
			os.Exit(2)
		}
		if op == "add" {
			body, _ := json.Marshal(map[string]string{"item": item})
			call(http.MethodPost, u, body, 5*time.Second)
		} else {
			call(http.MethodDelete, u+"?item="+url.QueryEscape(item), nil, 5*time.Second)
		}
	default:
		fmt.Fprintln(os.Stderr, "unknown blacklist op:", op)
		os.Exit(2)
	}
}

func refreshCmd(args []string) {
	fs := flag.NewFlagSet("refresh", flag.ExitOnError)
	baseURL := baseURLFlag(fs)
	_ = fs.Parse(args)
	call(http.MethodPost, endpoint(*baseURL, "/admin/v1/refresh"), nil, 15*time.Second)
}

func tablesCmd(args []string) {
	fs := flag.NewFlagSet("tables", flag.ExitOnError)
	baseURL := baseURLFlag(fs)
	_ = fs.Parse(args)
	call(http.MethodGet, endpoint(*baseURL, "/admin/v1/tables"), nil, 5*time.Second)
}

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := baseURLFlag(fs)
	_ = fs.Parse(args)
	call(http.MethodGet, endpoint(*baseURL, "/admin/v1/state"), nil, 5*time.Second)
}

func spawnCmd(args []string) {
	fs := flag.NewFlagSet("spawn", flag.ExitOnError)
	baseURL := baseURLFlag(fs)
	prefab := fs.String("prefab", "", "container prefab id")
	pos := fs.String("pos", "0,0,0", "position x,y,z")
	_ = fs.Parse(args)

	if strings.TrimSpace(*prefab) == "" {
		fmt.Fprintln(os.Stderr, "missing -prefab")
		os.Exit(2)
	}
	p, err := parseVec3(*pos)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -pos:", err)
		os.Exit(2)
	}
	body, _ := json.Marshal(map[string]any{"prefab": strings.TrimSpace(*prefab), "pos": p})
	call(http.MethodPost, endpoint(*baseURL, "/admin/v1/spawn"), body, 5*time.Second)
}

func endpoint(base, path string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/") + path
}

func call(method, u string, body []byte, timeout time.Duration) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, u, rd)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

func parseVec3(s string) ([3]float64, error) {
	var v [3]float64
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	for i := 0; i < 3; i++ {
		n, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return v, err
		}
		v[i] = n
	}
	return v, nil
}
