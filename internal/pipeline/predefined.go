package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/firecow/gitlab-local-pipeline/internal/gitinfo"
	"github.com/firecow/gitlab-local-pipeline/internal/variable"
)

var slugInvalid = regexp.MustCompile(`[^a-zA-Z0-9]`)

// refSlug lowercases, replaces non-alphanumerics with '-', trims
// leading/trailing '-' and truncates to 63 chars, matching
// CI_COMMIT_REF_SLUG's DNS-label constraint.
func refSlug(ref string) string {
	s := strings.ToLower(slugInvalid.ReplaceAllString(ref, "-"))
	s = strings.Trim(s, "-")
	if len(s) > 63 {
		s = s[:63]
	}
	return s
}

func camelCase(s string) string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == '-' || r == '_' || r == ' '
	})
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 {
			b.WriteString(strings.ToLower(p[:1]) + p[1:])
		} else {
			b.WriteString(strings.ToUpper(p[:1]) + p[1:])
		}
	}
	return b.String()
}

// PredefinedInput is everything needed to derive the predefined
// environment variables injected into every job.
type PredefinedInput struct {
	Git         gitinfo.Info
	ProjectDir  string
	PipelineIID int
	JobName     string
	JobStage    string
	JobID       string
}

// Predefined returns the deterministic, git + job-identity derived
// variables every Job receives, regardless of its own variables:.
func Predefined(in PredefinedInput) variable.Scope {
	remote := in.Git.Remote
	serverURL := fmt.Sprintf("https://%s", remote.Domain)
	projectPath := remote.Group
	if projectPath != "" {
		projectPath += "/"
	}
	projectPath += remote.Project

	refName := in.Git.Branch
	if refName == "" {
		refName = in.Git.Tag
	}

	pipelineID := in.PipelineIID + 1000

	return variable.Scope{
		"CI_JOB_NAME":  in.JobName,
		"CI_JOB_STAGE": in.JobStage,
		"CI_JOB_ID":    in.JobID,
		"CI_JOB_URL":   fmt.Sprintf("%s/%s/-/jobs/%s", serverURL, projectPath, in.JobID),

		"CI_PIPELINE_ID":     fmt.Sprintf("%d", pipelineID),
		"CI_PIPELINE_IID":    fmt.Sprintf("%d", in.PipelineIID),
		"CI_PIPELINE_URL":    fmt.Sprintf("%s/%s/-/pipelines/%d", serverURL, projectPath, pipelineID),
		"CI_PIPELINE_SOURCE": "push",

		"CI_COMMIT_SHA":            in.Git.CommitSHA,
		"CI_COMMIT_SHORT_SHA":      in.Git.ShortSHA,
		"CI_COMMIT_BRANCH":         in.Git.Branch,
		"CI_COMMIT_REF_NAME":       refName,
		"CI_COMMIT_REF_SLUG":       refSlug(refName),
		"CI_COMMIT_REF_PROTECTED":  "false",
		"CI_COMMIT_TITLE":          in.Git.CommitTitle,
		"CI_COMMIT_MESSAGE":        strings.TrimSpace(in.Git.CommitTitle + "\n" + in.Git.CommitBody),
		"CI_COMMIT_DESCRIPTION":    in.Git.CommitBody,

		"CI_PROJECT_DIR":        in.ProjectDir,
		"CI_PROJECT_NAME":       remote.Project,
		"CI_PROJECT_TITLE":      camelCase(remote.Project),
		"CI_PROJECT_PATH":       projectPath,
		"CI_PROJECT_PATH_SLUG":  refSlug(projectPath),
		"CI_PROJECT_NAMESPACE":  remote.Group,
		"CI_PROJECT_VISIBILITY": "internal",
		"CI_PROJECT_ID":         "1217",
		"CI_PROJECT_URL":        fmt.Sprintf("%s/%s", serverURL, projectPath),

		"CI_SERVER_HOST": remote.Domain,
		"CI_SERVER_URL":  serverURL,
		"CI_API_V4_URL":  serverURL + "/api/v4",

		"GITLAB_USER_LOGIN": in.Git.UserName,
		"GITLAB_USER_EMAIL": in.Git.UserEmail,
		"GITLAB_USER_NAME":  in.Git.UserName,
		"GITLAB_CI":         "false",
	}
}
