package joblens

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "Senior GO Developer", "senior go developer"},
		{"strips diacritics", "Señor Gó Developer", "senor go developer"},
		{"collapses whitespace", "  data\t engineer \n (remote) ", "data engineer (remote)"},
		{"empty", "   ", ""},
		{"already normal", "backend engineer", "backend engineer"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, NormalizeText(tc.in))
		})
	}
}

func TestIsPlaceholderLink(t *testing.T) {
	t.Parallel()

	assert.True(t, IsPlaceholderLink(""))
	assert.True(t, IsPlaceholderLink("#"))
	assert.True(t, IsPlaceholderLink("#apply-now"))
	assert.True(t, IsPlaceholderLink("javascript:void(0)"))
	assert.True(t, IsPlaceholderLink("  about:blank  "))
	assert.False(t, IsPlaceholderLink("https://example.com/job/1"))
	assert.False(t, IsPlaceholderLink("/job/1"))
}

func TestIsAbsoluteURL(t *testing.T) {
	t.Parallel()

	assert.True(t, IsAbsoluteURL("https://example.com/job/1"))
	assert.True(t, IsAbsoluteURL("http://example.com"))
	assert.False(t, IsAbsoluteURL("/job/1"))
	assert.False(t, IsAbsoluteURL("about:blank"))
	assert.False(t, IsAbsoluteURL("ftp://example.com"))
}

func TestIdentityNormalizesTitleAndCompany(t *testing.T) {
	t.Parallel()

	a := Posting{
		Candidate: Candidate{RawTitle: "Señor  Engineer", CompanyHint: "ACME Corp"},
		FinalURL:  "https://example.com/job/1",
	}
	b := Posting{
		Candidate: Candidate{RawTitle: "senor engineer", CompanyHint: "acme   corp"},
		FinalURL:  "https://example.com/job/1",
	}
	assert.Equal(t, a.Identity(), b.Identity())

	c := b
	c.FinalURL = "https://example.com/job/2"
	assert.NotEqual(t, a.Identity(), c.Identity())
}

func TestProvisionalIgnoresURL(t *testing.T) {
	t.Parallel()

	a := Candidate{RawTitle: "Data Engineer", CompanyHint: "Initech", RawLink: "#"}
	b := Candidate{RawTitle: "data   engineer", CompanyHint: "INITECH", RawLink: "https://other.example.com"}
	assert.Equal(t, a.Provisional(), b.Provisional())
}

func TestErrorWrapping(t *testing.T) {
	t.Parallel()

	cause := errors.New("net timeout")
	navErr := &NavigationError{URL: "https://example.com?page=2", Err: cause}
	assert.ErrorIs(t, navErr, cause)
	assert.Contains(t, navErr.Error(), "page=2")

	corrupt := &CacheCorruptionError{Path: "/tmp/state.json", Err: cause}
	assert.ErrorIs(t, corrupt, cause)
	assert.Contains(t, corrupt.Error(), "/tmp/state.json")
}
