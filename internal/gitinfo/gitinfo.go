// Package gitinfo extracts commit, remote, and user identity from the
// working tree by shelling out to the git binary, never through a git
// plumbing library.
//
// It is intended for internal use by gitlab-local-pipeline only.
package gitinfo

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/firecow/gitlab-local-pipeline/internal/process"
)

// Remote is the parsed {domain, group, project} triple from a git remote
// URL, accepting both bare HTTPS and SSH forms.
type Remote struct {
	Domain  string
	Group   string
	Project string
}

// Info is everything the Pipeline Compiler needs to derive predefined
// variables (CI_COMMIT_*, CI_PROJECT_*, GITLAB_USER_*).
type Info struct {
	UserName    string
	UserEmail   string
	Branch      string
	Tag         string
	CommitSHA   string
	ShortSHA    string
	CommitTitle string
	CommitBody  string
	Remote      Remote
}

var remoteSSH = regexp.MustCompile(`^(?:ssh://)?[^@]+@([^:/]+)[:/](.+?)/([^/]+?)(\.git)?/?$`)
var remoteHTTPS = regexp.MustCompile(`^https?://(?:[^@/]+@)?([^/]+)/(.+?)/([^/]+?)(\.git)?/?$`)

// Probe reads git metadata from cwd. Missing git metadata is a fatal
// compile-time error.
func Probe(ctx context.Context, cwd string) (Info, error) {
	run := func(args ...string) (string, error) {
		res, err := process.Spawn(ctx, process.Config{Cmd: "git " + strings.Join(args, " "), Dir: cwd})
		if err != nil {
			return "", fmt.Errorf("gitinfo: git %s: %w", strings.Join(args, " "), err)
		}
		return strings.TrimSpace(res.Stdout), nil
	}

	name, err := run("config", "user.name")
	if err != nil || name == "" {
		return Info{}, fmt.Errorf("gitinfo: could not determine git user.name: %w", err)
	}
	email, err := run("config", "user.email")
	if err != nil {
		return Info{}, fmt.Errorf("gitinfo: could not determine git user.email: %w", err)
	}
	sha, err := run("rev-parse", "HEAD")
	if err != nil {
		return Info{}, fmt.Errorf("gitinfo: not a git repository, or no commits: %w", err)
	}
	shortSha, err := run("rev-parse", "--short", "HEAD")
	if err != nil {
		return Info{}, err
	}
	branch, _ := run("rev-parse", "--abbrev-ref", "HEAD")
	tag, _ := run("describe", "--tags", "--exact-match")
	title, _ := run("log", "-1", "--pretty=%s")
	body, _ := run("log", "-1", "--pretty=%b")

	remoteURL, err := run("remote", "get-url", "origin")
	if err != nil || remoteURL == "" {
		return Info{}, fmt.Errorf("gitinfo: no 'origin' remote configured: %w", err)
	}
	remote, err := parseRemote(remoteURL)
	if err != nil {
		return Info{}, err
	}

	return Info{
		UserName:    name,
		UserEmail:   email,
		Branch:      branch,
		Tag:         tag,
		CommitSHA:   sha,
		ShortSHA:    shortSha,
		CommitTitle: title,
		CommitBody:  body,
		Remote:      remote,
	}, nil
}

func parseRemote(url string) (Remote, error) {
	if m := remoteSSH.FindStringSubmatch(url); m != nil && !strings.HasPrefix(url, "http") {
		return Remote{Domain: m[1], Group: m[2], Project: m[3]}, nil
	}
	if m := remoteHTTPS.FindStringSubmatch(url); m != nil {
		return Remote{Domain: m[1], Group: m[2], Project: m[3]}, nil
	}
	return Remote{}, fmt.Errorf("gitinfo: could not parse remote url %q", url)
}
