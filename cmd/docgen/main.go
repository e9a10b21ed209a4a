// Command docgen writes docs/api.adoc, the HTTP API reference, from the
// @Title/@Route/@Description/@Response annotations on the handlers in
// internal/api.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

type Endpoint struct {
	Title       string
	Route       string
	Description string
	Response    string
}

// Method returns the HTTP method of the route, GET when none is given.
func (e Endpoint) Method() string {
	if method, _, ok := strings.Cut(e.Route, " "); ok {
		return method
	}
	return "GET"
}

// Path returns the route path without method or query.
func (e Endpoint) Path() string {
	path := e.Route
	if _, rest, ok := strings.Cut(path, " "); ok {
		path = rest
	}
	path, _, _ = strings.Cut(path, "?")
	return path
}

var (
	reTitle = regexp.MustCompile(`// @Title: (.*)`)
	reRoute = regexp.MustCompile(`// @Route: (.*)`)
	reDesc  = regexp.MustCompile(`// @Description: (.*)`)
	reResp  = regexp.MustCompile(`// @Response: (.*)`)
)

func main() {
	apiDir := flag.String("api", filepath.Join("internal", "api"), "Directory of annotated handlers")
	out := flag.String("out", filepath.Join("docs", "api.adoc"), "Output AsciiDoc file")
	flag.Parse()

	endpoints, err := parseDir(*apiDir)
	if err != nil {
		log.Fatalf("parse %s: %v", *apiDir, err)
	}

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("create %s: %v", *out, err)
	}
	defer f.Close()

	if err := writeAsciiDoc(f, endpoints); err != nil {
		log.Fatalf("write %s: %v", *out, err)
	}
	fmt.Printf("Generated %s (%d endpoints)\n", *out, len(endpoints))
}

// parseDir collects annotated endpoints from the non-test Go files of dir,
// sorted by path.
func parseDir(dir string) ([]Endpoint, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var endpoints []Endpoint
	for _, file := range files {
		name := file.Name()
		if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		found, err := parse(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		endpoints = append(endpoints, found...)
	}

	sort.SliceStable(endpoints, func(i, j int) bool {
		return endpoints[i].Path() < endpoints[j].Path()
	})
	return endpoints, nil
}

// parse reads one annotation block per handler. @Response closes a block.
func parse(r io.Reader) ([]Endpoint, error) {
	var (
		endpoints []Endpoint
		current   Endpoint
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		if match := reTitle.FindStringSubmatch(line); len(match) > 1 {
			current.Title = strings.TrimSpace(match[1])
		}
		if match := reRoute.FindStringSubmatch(line); len(match) > 1 {
			current.Route = strings.TrimSpace(match[1])
		}
		if match := reDesc.FindStringSubmatch(line); len(match) > 1 {
			current.Description = strings.TrimSpace(match[1])
		}
		if match := reResp.FindStringSubmatch(line); len(match) > 1 {
			current.Response = strings.TrimSpace(match[1])
			if current.Title != "" && current.Route != "" {
				endpoints = append(endpoints, current)
			}
			current = Endpoint{}
		}
	}
	return endpoints, scanner.Err()
}

func writeAsciiDoc(w io.Writer, endpoints []Endpoint) error {
	b := &strings.Builder{}
	b.WriteString("= bmc HTTP API\n")
	b.WriteString(":toc:\n\n")
	b.WriteString("Generated by `go run ./cmd/docgen` from the handler annotations. Amounts are decimal strings of minimal units (18 decimals).\n\n")

	b.WriteString("[cols=\"1,3,4\"]\n|===\n|Method |Path |Summary\n\n")
	for _, ep := range endpoints {
		fmt.Fprintf(b, "|%s |`%s` |%s\n", ep.Method(), ep.Path(), ep.Title)
	}
	b.WriteString("|===\n")

	for _, ep := range endpoints {
		fmt.Fprintf(b, "\n== %s\n\n", ep.Title)
		fmt.Fprintf(b, "`%s`\n\n", ep.Route)
		if ep.Description != "" {
			fmt.Fprintf(b, "%s\n\n", ep.Description)
		}
		if ep.Response != "" {
			fmt.Fprintf(b, "----\n%s\n----\n", ep.Response)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
