package image_test

import (
	"testing"

	"github.com/ferrite-os/ferrite/internal/image"
)

func TestPackLookupRoundTrip(tt *testing.T) {
	tt.Parallel()

	images := map[string][]byte{
		"/bin/hello":    []byte("hello elf bytes"),
		"/bin/initproc": []byte("init elf bytes, longer"),
	}

	order := []string{"/bin/hello", "/bin/initproc"}

	blob, manifest := image.Pack(images, order)

	lookup := &image.Lookup{Manifest: manifest, Blob: blob}

	for name, want := range images {
		got, ok := lookup.Lookup(name)
		if !ok {
			tt.Fatalf("want %q found in manifest", name)
		}

		if string(got) != string(want) {
			tt.Errorf("want %q, got %q", want, got)
		}
	}

	if _, ok := lookup.Lookup("/bin/missing"); ok {
		tt.Errorf("want /bin/missing not found")
	}
}

func TestManifestMarshalUnmarshalRoundTrip(tt *testing.T) {
	tt.Parallel()

	images := map[string][]byte{
		"/bin/a": []byte("aaaa"),
		"/bin/b": []byte("bb"),
	}

	order := []string{"/bin/a", "/bin/b"}
	_, manifest := image.Pack(images, order)

	text, err := manifest.MarshalText()
	if err != nil {
		tt.Fatalf("marshal: %s", err)
	}

	var decoded image.Manifest
	if err := decoded.UnmarshalText(text); err != nil {
		tt.Fatalf("unmarshal: %s", err)
	}

	if len(decoded.Entries) != len(manifest.Entries) {
		tt.Fatalf("want %d entries, got %d", len(manifest.Entries), len(decoded.Entries))
	}

	for i, e := range manifest.Entries {
		got := decoded.Entries[i]
		if got.Name != e.Name || got.Offset != e.Offset || got.Length != e.Length {
			tt.Errorf("entry %d: want %+v, got %+v", i, e, got)
		}
	}
}

func TestUnmarshalEmptyManifestErrors(tt *testing.T) {
	tt.Parallel()

	var m image.Manifest
	if err := m.UnmarshalText([]byte(":00000001ff\n")); err == nil {
		tt.Errorf("want error for a manifest with no entries")
	}
}
