package fetch

import (
	"errors"
	"testing"

	"github.com/git-pkgs/addinaudit/client"
)

func TestResolveWithoutRegistry(t *testing.T) {
	r := NewResolver()

	tests := []struct {
		name         string
		version      string
		kind         Kind
		wantURL      string
		wantFilename string
	}{
		{
			name:         "Cake.Git",
			version:      "3.0.0",
			kind:         KindPackage,
			wantURL:      "https://api.nuget.org/v3-flatcontainer/cake.git/3.0.0/cake.git.3.0.0.nupkg",
			wantFilename: "cake.git.3.0.0.nupkg",
		},
		{
			name:         "Cake.Git",
			version:      "3.0.0-Beta1",
			kind:         KindPackage,
			wantURL:      "https://api.nuget.org/v3-flatcontainer/cake.git/3.0.0-beta1/cake.git.3.0.0-beta1.nupkg",
			wantFilename: "cake.git.3.0.0-beta1.nupkg",
		},
		{
			name:         "Cake.Git",
			version:      "3.0.0",
			kind:         KindSymbols,
			wantURL:      "https://globalcdn.nuget.org/symbol-packages/cake.git.3.0.0.snupkg",
			wantFilename: "cake.git.3.0.0.snupkg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name+"@"+tt.version+"/"+tt.kind.String(), func(t *testing.T) {
			info, err := r.Resolve("nuget", tt.name, tt.version, tt.kind)
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if info.URL != tt.wantURL {
				t.Errorf("URL = %q, want %q", info.URL, tt.wantURL)
			}
			if info.Filename != tt.wantFilename {
				t.Errorf("Filename = %q, want %q", info.Filename, tt.wantFilename)
			}
			if info.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", info.Kind, tt.kind)
			}
		})
	}
}

func TestResolveUnsupportedEcosystem(t *testing.T) {
	r := NewResolver()
	_, err := r.Resolve("npm", "lodash", "4.17.21", KindPackage)
	if !errors.Is(err, ErrUnsupportedEcosystem) {
		t.Errorf("expected ErrUnsupportedEcosystem, got %v", err)
	}
}

type mockRegistry struct {
	urls *client.BaseURLs
}

func (m *mockRegistry) Ecosystem() string       { return "nuget" }
func (m *mockRegistry) URLs() client.URLBuilder { return m.urls }

func TestResolveWithRegistry(t *testing.T) {
	r := NewResolver()
	r.RegisterRegistry(&mockRegistry{urls: &client.BaseURLs{
		DownloadFn: func(name, version string) string {
			return "https://mirror.example.com/" + name + "/" + version + ".nupkg"
		},
	}})

	info, err := r.Resolve("nuget", "Cake.Git", "3.0.0", KindPackage)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if info.URL != "https://mirror.example.com/Cake.Git/3.0.0.nupkg" {
		t.Errorf("unexpected URL: %s", info.URL)
	}
	if info.Filename != "cake.git.3.0.0.nupkg" {
		t.Errorf("unexpected filename: %s", info.Filename)
	}

	// The mock has no symbol server.
	_, err = r.Resolve("nuget", "Cake.Git", "3.0.0", KindSymbols)
	if !errors.Is(err, ErrNoDownloadURL) {
		t.Errorf("expected ErrNoDownloadURL, got %v", err)
	}
}
