package imagepipeline

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/tphakala/upc-lookup/internal/conf"
	"github.com/tphakala/upc-lookup/internal/errors"
	"github.com/tphakala/upc-lookup/internal/httpclient"
	"github.com/tphakala/upc-lookup/internal/imagestore"
)

const testUPC = "012993441012"

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		img.Set(x, x%h, color.RGBA{R: uint8(x), G: 100, B: 200, A: 255})
	}
	return img
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(w, h)))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testImage(w, h), nil))
	return buf.Bytes()
}

func bmpBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, testImage(w, h)))
	return buf.Bytes()
}

// pngHeader returns a PNG holding only a signature and an IHDR chunk that
// declares w x h RGBA pixels. It decodes as a config but carries no data.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], w)
	binary.BigEndian.PutUint32(ihdr[4:8], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // truecolor with alpha

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

type fixture struct {
	pipeline *Pipeline
	store    *imagestore.Store
	mock     *httpmock.MockTransport
}

func newFixture(t *testing.T, mutate func(*conf.ImageSettings)) *fixture {
	t.Helper()
	settings := conf.ImageSettings{
		FetchTimeout:  time.Second,
		MaxBytes:      1 << 20,
		MinDimension:  50,
		Concurrency:   4,
		ReuseExisting: true,
	}
	if mutate != nil {
		mutate(&settings)
	}

	mock := httpmock.NewMockTransport()
	hc := httpclient.New(&httpclient.Config{Transport: mock})
	t.Cleanup(hc.Close)

	store := imagestore.New(afero.NewMemMapFs(), "", nil)
	return &fixture{
		pipeline: New(hc, store, &settings, nil),
		store:    store,
		mock:     mock,
	}
}

func (f *fixture) serve(url string, status int, body []byte) {
	f.mock.RegisterResponder(http.MethodGet, url, httpmock.NewBytesResponder(status, body))
}

func TestSelect_OneValidOneInvalid(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.serve("https://img.example.com/a.png", http.StatusOK, pngBytes(t, 200, 100))
	f.serve("https://img.example.com/b.jpg", http.StatusOK, []byte("<html>not an image</html>"))

	res := f.pipeline.Select(t.Context(), testUPC, []string{
		"https://img.example.com/a.png",
		"https://img.example.com/b.jpg",
	})

	require.Len(t, res.Accepted, 1)
	assert.Equal(t, "012993441012/012993441012_1.png", res.Accepted[0].Path)
	assert.Equal(t, "png", res.Accepted[0].Format)
	assert.Equal(t, 200, res.Accepted[0].Width)
	require.NotNil(t, res.Best)
	assert.Equal(t, 1, res.Best.Ordinal)
	assert.Equal(t, "012993441012/best_012993441012.png", res.BestPath)

	require.Len(t, res.Rejected, 1)
	assert.Equal(t, ReasonDecode, res.Rejected[0].Reason)

	files, err := f.store.List(testUPC)
	require.NoError(t, err)
	assert.Equal(t, []string{"012993441012_1.png", "best_012993441012.png"}, files)

	original, err := f.store.Read(res.Accepted[0].Path)
	require.NoError(t, err)
	best, err := f.store.Read(res.BestPath)
	require.NoError(t, err)
	assert.Equal(t, original, best)
}

func TestSelect_RanksByAreaThenOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.serve("https://img.example.com/1.png", http.StatusOK, pngBytes(t, 100, 100))
	f.serve("https://img.example.com/2.jpg", http.StatusOK, jpegBytes(t, 300, 200))
	f.serve("https://img.example.com/3.png", http.StatusOK, pngBytes(t, 200, 300))

	res := f.pipeline.Select(t.Context(), testUPC, []string{
		"https://img.example.com/1.png",
		"https://img.example.com/2.jpg",
		"https://img.example.com/3.png",
	})

	require.Len(t, res.Accepted, 3)
	for i, c := range res.Accepted {
		assert.Equal(t, i+1, c.Ordinal, "accepted keeps provider order")
	}
	require.NotNil(t, res.Best)
	assert.Equal(t, 2, res.Best.Ordinal, "equal areas fall back to provider order")
	assert.Equal(t, "012993441012/best_012993441012.jpg", res.BestPath)
}

func TestSelect_RejectionReasons(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(s *conf.ImageSettings) { s.MaxBytes = 4096 })

	truncated := pngBytes(t, 120, 120)
	truncated = truncated[:len(truncated)/2]

	f.serve("https://img.example.com/small.png", http.StatusOK, pngBytes(t, 10, 10))
	f.serve("https://img.example.com/missing.png", http.StatusNotFound, nil)
	f.mock.RegisterResponder(http.MethodGet, "https://img.example.com/down.png",
		httpmock.NewErrorResponder(errors.NewStd("connection reset by peer")))
	f.serve("https://img.example.com/huge.bmp", http.StatusOK, bmpBytes(t, 200, 200))
	f.serve("https://img.example.com/truncated.png", http.StatusOK, truncated)

	urls := []string{
		"https://img.example.com/small.png",
		"https://img.example.com/missing.png",
		"https://img.example.com/down.png",
		"https://img.example.com/huge.bmp",
		"https://img.example.com/truncated.png",
		"ftp://img.example.com/file.png",
	}
	res := f.pipeline.Select(t.Context(), testUPC, urls)

	assert.Empty(t, res.Accepted)
	assert.Nil(t, res.Best)
	assert.Empty(t, res.BestPath)

	reasons := make(map[int]string)
	for _, c := range res.Rejected {
		reasons[c.Ordinal] = c.Reason
	}
	assert.Equal(t, map[int]string{
		1: ReasonTooSmall,
		2: ReasonStatus,
		3: ReasonFetch,
		4: ReasonTooLarge,
		5: ReasonDecode,
		6: ReasonBadURL,
	}, reasons)

	files, err := f.store.List(testUPC)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestSelect_AcceptsExtendedFormats(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.serve("https://img.example.com/photo.bmp", http.StatusOK, bmpBytes(t, 80, 60))

	res := f.pipeline.Select(t.Context(), testUPC, []string{"https://img.example.com/photo.bmp"})
	require.Len(t, res.Accepted, 1)
	assert.Equal(t, "bmp", res.Accepted[0].Format)
	assert.Equal(t, "012993441012/012993441012_1.bmp", res.Accepted[0].Path)
}

func TestSelect_Idempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.serve("https://img.example.com/a.png", http.StatusOK, pngBytes(t, 120, 80))
	f.serve("https://img.example.com/b.png", http.StatusOK, pngBytes(t, 160, 90))
	f.serve("https://img.example.com/c.png", http.StatusOK, []byte("garbage"))
	urls := []string{"https://img.example.com/a.png", "https://img.example.com/b.png", "https://img.example.com/c.png"}

	first := f.pipeline.Select(t.Context(), testUPC, urls)
	filesFirst, err := f.store.List(testUPC)
	require.NoError(t, err)
	bestFirst, err := f.store.Read(first.BestPath)
	require.NoError(t, err)
	callsAfterFirst := f.mock.GetTotalCallCount()

	second := f.pipeline.Select(t.Context(), testUPC, urls)
	filesSecond, err := f.store.List(testUPC)
	require.NoError(t, err)
	bestSecond, err := f.store.Read(second.BestPath)
	require.NoError(t, err)

	require.NotNil(t, first.Best)
	require.NotNil(t, second.Best)
	assert.Equal(t, first.Best.Ordinal, second.Best.Ordinal)
	assert.Equal(t, first.BestPath, second.BestPath)
	assert.Equal(t, paths(first.Accepted), paths(second.Accepted))
	assert.Equal(t, filesFirst, filesSecond)
	assert.Equal(t, bestFirst, bestSecond)

	// accepted files are reused; only the rejected candidate is fetched again
	assert.Equal(t, callsAfterFirst+1, f.mock.GetTotalCallCount())
	for _, c := range second.Accepted {
		assert.True(t, c.Reused)
	}
}

func TestSelect_ReuseDisabledRefetches(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(s *conf.ImageSettings) { s.ReuseExisting = false })
	f.serve("https://img.example.com/a.png", http.StatusOK, pngBytes(t, 120, 80))
	urls := []string{"https://img.example.com/a.png"}

	f.pipeline.Select(t.Context(), testUPC, urls)
	f.pipeline.Select(t.Context(), testUPC, urls)
	assert.Equal(t, 2, f.mock.GetTotalCallCount())
}

func TestSelect_InvalidExistingFileIsReplaced(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	require.NoError(t, f.store.Write("012993441012/012993441012_1.png", []byte("corrupt")))
	fresh := pngBytes(t, 120, 80)
	f.serve("https://img.example.com/a.png", http.StatusOK, fresh)

	res := f.pipeline.Select(t.Context(), testUPC, []string{"https://img.example.com/a.png"})

	require.Len(t, res.Accepted, 1)
	assert.False(t, res.Accepted[0].Reused)
	assert.Equal(t, 1, f.mock.GetTotalCallCount())

	data, err := f.store.Read("012993441012/012993441012_1.png")
	require.NoError(t, err)
	assert.Equal(t, fresh, data)
}

func TestSelect_PrunesStaleFiles(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	require.NoError(t, f.store.Write("012993441012/012993441012_7.jpg", jpegBytes(t, 100, 100)))
	require.NoError(t, f.store.Write("012993441012/best_012993441012.jpg", jpegBytes(t, 100, 100)))
	f.serve("https://img.example.com/a.png", http.StatusOK, pngBytes(t, 120, 80))

	res := f.pipeline.Select(t.Context(), testUPC, []string{"https://img.example.com/a.png"})
	require.NotNil(t, res.Best)

	files, err := f.store.List(testUPC)
	require.NoError(t, err)
	assert.Equal(t, []string{"012993441012_1.png", "best_012993441012.png"}, files)
}

func TestSelect_NoCandidates(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	res := f.pipeline.Select(t.Context(), testUPC, nil)
	assert.Empty(t, res.Accepted)
	assert.Nil(t, res.Best)
	assert.Zero(t, f.mock.GetTotalCallCount())
}

func TestSelect_FetchTimeoutDropsCandidate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(s *conf.ImageSettings) { s.FetchTimeout = 50 * time.Millisecond })
	f.mock.RegisterResponder(http.MethodGet, "https://img.example.com/slow.png", func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})
	f.serve("https://img.example.com/fast.png", http.StatusOK, pngBytes(t, 64, 64))

	start := time.Now()
	res := f.pipeline.Select(t.Context(), testUPC, []string{
		"https://img.example.com/slow.png",
		"https://img.example.com/fast.png",
	})

	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, res.Accepted, 1)
	assert.Equal(t, 2, res.Accepted[0].Ordinal)
}

func TestSelect_RejectsOversizedDimensionsBeforeDecode(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	bomb := pngHeader(50000, 50000)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(bomb))
	require.NoError(t, err, "header must parse for the cap to apply")
	require.Equal(t, "png", format)
	require.Equal(t, 50000, cfg.Width)

	f.serve("https://img.example.com/bomb.png", http.StatusOK, bomb)
	f.serve("https://img.example.com/ok.png", http.StatusOK, pngBytes(t, 120, 80))

	res := f.pipeline.Select(t.Context(), testUPC, []string{
		"https://img.example.com/bomb.png",
		"https://img.example.com/ok.png",
	})

	require.Len(t, res.Rejected, 1)
	assert.Equal(t, ReasonTooMany, res.Rejected[0].Reason)
	assert.Equal(t, 50000, res.Rejected[0].Width)
	require.Len(t, res.Accepted, 1)
	assert.Equal(t, 2, res.Accepted[0].Ordinal)
	assert.False(t, f.store.Exists("012993441012/012993441012_1.png"))
}

func TestSelect_MaxPixelsSetting(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(s *conf.ImageSettings) { s.MaxPixels = 100 * 100 })
	f.serve("https://img.example.com/edge.png", http.StatusOK, pngBytes(t, 100, 100))
	f.serve("https://img.example.com/over.png", http.StatusOK, pngBytes(t, 101, 100))

	res := f.pipeline.Select(t.Context(), testUPC, []string{
		"https://img.example.com/edge.png",
		"https://img.example.com/over.png",
	})

	require.Len(t, res.Accepted, 1)
	assert.Equal(t, 1, res.Accepted[0].Ordinal)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, ReasonTooMany, res.Rejected[0].Reason)
}

func TestSelect_ConcurrentRunsOnSameUPC(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(s *conf.ImageSettings) { s.ReuseExisting = false })
	f.serve("https://img.example.com/a.png", http.StatusOK, pngBytes(t, 120, 80))
	f.serve("https://img.example.com/b.jpg", http.StatusOK, jpegBytes(t, 300, 200))
	f.serve("https://img.example.com/c.png", http.StatusOK, pngBytes(t, 64, 64))
	f.serve("https://img.example.com/d.png", http.StatusOK, []byte("garbage"))
	urls := []string{
		"https://img.example.com/a.png",
		"https://img.example.com/b.jpg",
		"https://img.example.com/c.png",
		"https://img.example.com/d.png",
	}

	const runs = 6
	results := make([]Result, runs)
	var wg sync.WaitGroup
	for i := range runs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = f.pipeline.Select(t.Context(), testUPC, urls)
		}()
	}
	wg.Wait()

	for i, res := range results {
		require.Len(t, res.Accepted, 3, "run %d accepts every valid candidate", i)
		for _, c := range res.Accepted {
			assert.True(t, f.store.Exists(c.Path), "run %d: %s exists", i, c.Path)
		}
		require.NotNil(t, res.Best, "run %d", i)
		assert.Equal(t, 2, res.Best.Ordinal)
		assert.True(t, f.store.Exists(res.BestPath), "run %d: %s exists", i, res.BestPath)
	}

	files, err := f.store.List(testUPC)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"012993441012_1.png", "012993441012_2.jpg", "012993441012_3.png", "best_012993441012.jpg",
	}, files)

	f.pipeline.locks.mu.Lock()
	assert.Empty(t, f.pipeline.locks.m, "per-UPC locks are released")
	f.pipeline.locks.mu.Unlock()
}

func TestExtFromURL(t *testing.T) {
	t.Parallel()

	tests := []struct{ url, want string }{
		{"https://img.example.com/a.PNG", ".png"},
		{"https://img.example.com/a.jpeg?w=200", ".jpeg"},
		{"https://img.example.com/image?id=42", ".jpg"},
		{"https://img.example.com/render.php?img=a.gif", ".jpg"},
		{"https://img.example.com/photo.webp", ".webp"},
		{"::not a url", ".jpg"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extFromURL(tt.url), tt.url)
	}
}

func paths(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Path
	}
	return out
}
