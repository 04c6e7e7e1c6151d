// Package source implements release sources: one per tool-id, each
// enumerating and sorting available versions from an upstream catalog and
// constructing download/checksum URLs. Network calls go through pkg/fetch's
// retryable client; version ordering uses pkg/version.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/wrknv/wrknv/pkg/fetch"
	"github.com/wrknv/wrknv/pkg/version"
	"github.com/wrknv/wrknv/pkg/wrknverrors"
)

// Source is the contract every tool-id's release catalog client implements.
type Source interface {
	ListVersions(ctx context.Context, includePrereleases bool) ([]string, error)
	DownloadURL(version string) (string, error)
	ChecksumURL(version string) (string, bool)
}

var prereleaseTokens = []string{"alpha", "beta", "rc", "pre"}

func looksLikePrerelease(v string) bool {
	lower := strings.ToLower(v)
	for _, tok := range prereleaseTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

// --- HashiCorp-style source (one tf variant, Vault) ---------------------

// HashiCorpSource reads a HashiCorp-style {"versions": {"<v>": {...}}} JSON
// index, e.g. https://releases.hashicorp.com/terraform/index.json.
type HashiCorpSource struct {
	Fetcher             *fetch.Fetcher
	Product             string
	IndexURL            string
	ArchiveURLTemplate  string // printf template: %[1]s=version, %[2]s=product, %[3]s=platform
	ChecksumURLTemplate string
	Platform            string // e.g. "linux_amd64"
}

type hashicorpIndex struct {
	Versions map[string]struct {
		Builds []struct {
			URL string `json:"url"`
		} `json:"builds"`
	} `json:"versions"`
}

func (s *HashiCorpSource) ListVersions(ctx context.Context, includePrereleases bool) ([]string, error) {
	body, err := s.Fetcher.Get(ctx, s.IndexURL, nil)
	if err != nil {
		return nil, wrknverrors.Network("list_versions", s.Product, err)
	}
	var idx hashicorpIndex
	if err := json.Unmarshal(body, &idx); err != nil {
		return nil, wrknverrors.Network("list_versions", s.Product, err)
	}

	versions := make([]string, 0, len(idx.Versions))
	for v := range idx.Versions {
		if !includePrereleases && looksLikePrerelease(v) {
			continue
		}
		versions = append(versions, v)
	}
	return version.SortVersions(versions), nil
}

func (s *HashiCorpSource) DownloadURL(v string) (string, error) {
	return fmt.Sprintf(s.ArchiveURLTemplate, v, s.Product, s.Platform), nil
}

func (s *HashiCorpSource) ChecksumURL(v string) (string, bool) {
	if s.ChecksumURLTemplate == "" {
		return "", false
	}
	return fmt.Sprintf(s.ChecksumURLTemplate, v, s.Product), true
}

// --- Official Go release index -------------------------------------------

// GoSource reads https://go.dev/dl/?mode=json, an array of
// {version:"goX.Y.Z", stable:bool}.
type GoSource struct {
	Fetcher  *fetch.Fetcher
	IndexURL string // https://go.dev/dl/?mode=json
	Platform string // e.g. "linux-amd64"
	Ext      string // "tar.gz" or "zip"
}

type goRelease struct {
	Version string `json:"version"`
	Stable  bool   `json:"stable"`
}

func (s *GoSource) ListVersions(ctx context.Context, includePrereleases bool) ([]string, error) {
	indexURL := s.IndexURL
	if !strings.Contains(indexURL, "includeAll") && includePrereleases {
		sep := "&"
		if !strings.Contains(indexURL, "?") {
			sep = "?"
		}
		indexURL += sep + "includeAll=1"
	}
	body, err := s.Fetcher.Get(ctx, indexURL, nil)
	if err != nil {
		return nil, wrknverrors.Network("list_versions", "go", err)
	}
	var releases []goRelease
	if err := json.Unmarshal(body, &releases); err != nil {
		return nil, wrknverrors.Network("list_versions", "go", err)
	}

	versions := make([]string, 0, len(releases))
	for _, r := range releases {
		if !includePrereleases && !r.Stable {
			continue
		}
		versions = append(versions, strings.TrimPrefix(r.Version, "go"))
	}
	return version.SortVersions(versions), nil
}

func (s *GoSource) DownloadURL(v string) (string, error) {
	return fmt.Sprintf("https://go.dev/dl/go%s.%s.%s", v, s.Platform, s.Ext), nil
}

func (s *GoSource) ChecksumURL(v string) (string, bool) {
	url, _ := s.DownloadURL(v)
	return url + ".sha256", true
}

// --- GitHub releases (one tf variant, OpenBao, UV) -----------------------

// GitHubSource lists tags from a GitHub repository's releases API.
type GitHubSource struct {
	Fetcher             *fetch.Fetcher
	Owner, Repo         string
	APIBase             string // default https://api.github.com
	ArchiveURLTemplate   string // printf: %[1]s=version (no leading v), %[2]s=platform, %[3]s=ext
	ChecksumURLTemplate  string
	Platform, Ext        string
}

type githubRelease struct {
	TagName    string `json:"tag_name"`
	Prerelease bool   `json:"prerelease"`
}

func (s *GitHubSource) apiBase() string {
	if s.APIBase != "" {
		return s.APIBase
	}
	return "https://api.github.com"
}

func (s *GitHubSource) ListVersions(ctx context.Context, includePrereleases bool) ([]string, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases?per_page=100", s.apiBase(), s.Owner, s.Repo)
	body, err := s.Fetcher.Get(ctx, url, map[string]string{"Accept": "application/vnd.github+json"})
	if err != nil {
		return nil, wrknverrors.Network("list_versions", s.Repo, err)
	}
	var releases []githubRelease
	if err := json.Unmarshal(body, &releases); err != nil {
		return nil, wrknverrors.Network("list_versions", s.Repo, err)
	}

	versions := make([]string, 0, len(releases))
	for _, r := range releases {
		if r.Prerelease && !includePrereleases {
			continue
		}
		versions = append(versions, strings.TrimPrefix(r.TagName, "v"))
	}
	sort.Strings(versions)
	return version.SortVersions(versions), nil
}

func (s *GitHubSource) DownloadURL(v string) (string, error) {
	return fmt.Sprintf(s.ArchiveURLTemplate, v, s.Platform, s.Ext), nil
}

func (s *GitHubSource) ChecksumURL(v string) (string, bool) {
	if s.ChecksumURLTemplate == "" {
		return "", false
	}
	return fmt.Sprintf(s.ChecksumURLTemplate, v, s.Platform, s.Ext), true
}
