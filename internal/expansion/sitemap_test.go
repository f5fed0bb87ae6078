package expansion

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
)

func urlset(locs ...string) string {
	s := `<?xml version="1.0" encoding="UTF-8"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`
	for _, l := range locs {
		s += "<url><loc>" + l + "</loc><lastmod>2024-05-01</lastmod></url>"
	}
	return s + "</urlset>"
}

func TestSitemaps_URLs(t *testing.T) {
	var base string
	docs := map[string]func() string{
		"/blog.xml": func() string {
			return urlset("https://shop.test/blog/trail-shoe-guide", "https://shop.test/blog/")
		},
		"/index.xml": func() string {
			return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>%[1]s/blog.xml</loc></sitemap>
  <sitemap><loc>%[1]s/gone.xml</loc></sitemap>
  <sitemap><loc>%[1]s/products.xml</loc></sitemap>
</sitemapindex>`, base)
		},
		"/products.xml": func() string { return urlset("https://shop.test/p/waterproof-hiking-boots") },
		"/loop.xml": func() string {
			return fmt.Sprintf(`<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"><sitemap><loc>%s/loop.xml</loc></sitemap></sitemapindex>`, base)
		},
		"/junk.xml": func() string { return "plain text, no markup" },
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		doc, ok := docs[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, doc())
	}))
	defer ts.Close()
	base = ts.URL

	tests := []struct {
		path    string
		want    []string
		wantErr bool
	}{
		{"/blog.xml", []string{"https://shop.test/blog/trail-shoe-guide", "https://shop.test/blog/"}, false},
		{"/index.xml", []string{"https://shop.test/blog/trail-shoe-guide", "https://shop.test/blog/", "https://shop.test/p/waterproof-hiking-boots"}, false},
		{"/loop.xml", nil, false},
		{"/junk.xml", nil, true},
		{"/gone.xml", nil, true},
	}

	sm := NewSitemaps(newTestClient(t), nil)
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := sm.URLs(context.Background(), ts.URL+tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error=%v, got %v", tt.wantErr, err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
