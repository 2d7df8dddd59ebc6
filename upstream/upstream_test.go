package upstream_test

import (
	"net/http"
	"net/url"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/siphon-mitm/siphon/upstream"
)

func TestProxyForRequestUsesParentProxyByDefault(t *testing.T) {
	c := qt.New(t)
	parent, err := url.Parse("http://parent.example.com:8080")
	c.Assert(err, qt.IsNil)

	client := upstream.New(upstream.Config{ParentProxyURL: parent})

	req, err := http.NewRequest(http.MethodGet, "https://origin.example.com/", nil)
	c.Assert(err, qt.IsNil)

	got, err := client.ProxyForRequest(req)
	c.Assert(err, qt.IsNil)
	c.Assert(got.String(), qt.Equals, parent.String())
}

func TestProxyForRequestHonorsBypassList(t *testing.T) {
	c := qt.New(t)
	parent, err := url.Parse("http://parent.example.com:8080")
	c.Assert(err, qt.IsNil)

	client := upstream.New(upstream.Config{
		ParentProxyURL: parent,
		Bypass:         []string{"*.internal.corp"},
	})

	req, err := http.NewRequest(http.MethodGet, "https://svc.internal.corp/", nil)
	c.Assert(err, qt.IsNil)

	got, err := client.ProxyForRequest(req)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.IsNil)
}

func TestInsecureSkipVerifyReflectsConfig(t *testing.T) {
	c := qt.New(t)
	client := upstream.New(upstream.Config{InsecureSkipVerify: true})
	c.Assert(client.InsecureSkipVerify(), qt.IsTrue)
}
