package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"rgb-aligner/internal/alignment"
	"rgb-aligner/internal/app"
	"rgb-aligner/internal/channel"
	"rgb-aligner/internal/features"
	"rgb-aligner/internal/report"
	"rgb-aligner/internal/synth"
	"rgb-aligner/internal/version"
	"rgb-aligner/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingAligner passes channels through and remembers the options it was
// built with.
type recordingAligner struct {
	mu    sync.Mutex
	opts  alignment.Options
	calls int
	err   error
}

func (a *recordingAligner) root() *Root {
	return &Root{newAligner: func(opts alignment.Options) app.Aligner {
		a.mu.Lock()
		a.opts = opts
		a.mu.Unlock()
		return a
	}}
}

func (a *recordingAligner) Align(in channel.Triple) (*alignment.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	r := &alignment.Result{Channels: in.Clone()}
	for i := range r.Reports {
		r.Reports[i] = alignment.ChannelReport{Channel: channel.Index(i), Transform: geometry.Identity()}
	}
	return r, nil
}

func (a *recordingAligner) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func execute(ctx context.Context, t *testing.T, root *Root, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out, root)
	cmd.SetErr(io.Discard)
	if !hasConfigFlag(args) {
		args = append([]string{"--config", filepath.Join(t.TempDir(), "config.json")}, args...)
	}
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func hasConfigFlag(args []string) bool {
	for _, a := range args {
		if a == "--config" {
			return true
		}
	}
	return false
}

// writeChannels saves r, g and b as PNGs in a fresh directory.
func writeChannels(t *testing.T, imgs channel.Triple) [channel.Count]string {
	t.Helper()
	dir := t.TempDir()
	var paths [channel.Count]string
	for i, img := range imgs {
		paths[i] = filepath.Join(dir, outputNames[i]+"_in.png")
		require.NoError(t, channel.Save(paths[i], img))
	}
	return paths
}

func channelArgs(paths [channel.Count]string, outDir string) []string {
	return []string{"-r", paths[0], "-g", paths[1], "-b", paths[2], "-o", outDir}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitError, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitInsufficientMatches, ExitCode(fmt.Errorf("wrapped: %w",
		&alignment.InsufficientCorrespondencesError{Channel: channel.Green, Actual: 3, Required: 50})))
	assert.Equal(t, ExitEstimationFailed, ExitCode(
		&alignment.TransformEstimationError{Channel: channel.Blue, Reason: "degenerate"}))
	assert.Equal(t, ExitError, ExitCode(alignment.ErrNoFeatures))
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(context.Background(), t, (&recordingAligner{}).root(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, version.Version)
}

func TestConfigShowAndInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "config.json")
	root := (&recordingAligner{}).root

	out, err := execute(context.Background(), t, root(), "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `"max_features": 1000`)
	assert.Contains(t, out, path)

	_, err = execute(context.Background(), t, root(), "--config", path, "config", "init")
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = execute(context.Background(), t, root(), "--config", path, "config", "init")
	assert.Error(t, err)
	_, err = execute(context.Background(), t, root(), "--config", path, "config", "init", "--force")
	assert.NoError(t, err)
}

func TestBadConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"alignment": {"matcher": "flann"}}`), 0o644))

	_, err := execute(context.Background(), t, (&recordingAligner{}).root(), "--config", path, "version")
	assert.Error(t, err)
}

func TestAlignFlagsOverrideConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"alignment": {"max_features": 400, "ransac_threshold": 2.5}}`), 0o644))

	img := synth.Texture(32, 24, 1)
	paths := writeChannels(t, channel.Triple{img, img, img})
	aligner := &recordingAligner{}

	args := append([]string{"--config", cfgPath, "align"}, channelArgs(paths, t.TempDir())...)
	args = append(args, "--max-features", "300", "--interp", "nearest", "--fail-featureless", "--matcher", "hamming")
	_, err := execute(context.Background(), t, aligner.root(), args...)
	require.NoError(t, err)

	assert.Equal(t, 300, aligner.opts.MaxFeatures)
	assert.Equal(t, 2.5, aligner.opts.Estimate.Threshold)
	assert.Equal(t, alignment.InterpNearest, aligner.opts.Interpolation)
	assert.Equal(t, alignment.FailOnEmpty, aligner.opts.EmptyFeatures)
	assert.IsType(t, features.HammingMatcher{}, aligner.opts.Matcher)
	assert.NotNil(t, aligner.opts.Logger)
	assert.Equal(t, 1, aligner.Calls())
}

func TestAlignDefaultsPassFeaturelessChannelsThrough(t *testing.T) {
	img := synth.Texture(32, 24, 1)
	paths := writeChannels(t, channel.Triple{img, img, img})
	aligner := &recordingAligner{}

	args := append([]string{"align"}, channelArgs(paths, t.TempDir())...)
	_, err := execute(context.Background(), t, aligner.root(), args...)
	require.NoError(t, err)

	assert.Equal(t, alignment.PassThroughEmpty, aligner.opts.EmptyFeatures)
	assert.IsType(t, features.BFMatcher{}, aligner.opts.Matcher)
}

func TestAlignAppliesAdjustments(t *testing.T) {
	flat := synth.Flat(16, 12, 100)
	paths := writeChannels(t, channel.Triple{flat, flat, flat})
	outDir := filepath.Join(t.TempDir(), "out")

	args := append([]string{"align"}, channelArgs(paths, outDir)...)
	args = append(args, "--green-brightness", "25", "--blue-contrast", "-50", "--format", "tiff")
	_, err := execute(context.Background(), t, (&recordingAligner{}).root(), args...)
	require.NoError(t, err)

	want := map[string]uint8{"r": 100, "g": 125, "b": 50}
	for name, v := range want {
		img, err := channel.Load(filepath.Join(outDir, name+".tiff"))
		require.NoError(t, err)
		assert.Equal(t, v, img.GrayAt(3, 3).Y, name)
	}

	rgb := loadColour(t, filepath.Join(outDir, "rgb.tiff"))
	assert.Equal(t, image.Rect(0, 0, 16, 12), rgb.Bounds())
	assert.Equal(t, color.NRGBA{R: 100, G: 125, B: 50, A: 0xff},
		color.NRGBAModel.Convert(rgb.At(3, 3)))
}

func TestAlignWritesJPEG(t *testing.T) {
	flat := synth.Flat(16, 12, 120)
	paths := writeChannels(t, channel.Triple{flat, flat, flat})
	outDir := t.TempDir()

	args := append([]string{"align"}, channelArgs(paths, outDir)...)
	args = append(args, "--format", "jpg")
	_, err := execute(context.Background(), t, (&recordingAligner{}).root(), args...)
	require.NoError(t, err)

	for _, name := range append(outputNames[:], combinedName) {
		_, err := os.Stat(filepath.Join(outDir, name+".jpg"))
		assert.NoError(t, err, name)
	}
	g, err := channel.Load(filepath.Join(outDir, "g.jpg"))
	require.NoError(t, err)
	assert.InDelta(t, 120, int(g.GrayAt(8, 6).Y), 2)
}

func loadColour(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, _, err := image.Decode(f)
	require.NoError(t, err)
	return img
}

func TestAlignValidatesFlags(t *testing.T) {
	img := synth.Flat(8, 8, 1)
	paths := writeChannels(t, channel.Triple{img, img, img})
	outDir := t.TempDir()
	cases := map[string][]string{
		"missing red":     {"align", "-g", paths[1], "-b", paths[2], "-o", outDir},
		"bad interp":      append(append([]string{"align"}, channelArgs(paths, outDir)...), "--interp", "lanczos"),
		"bad brightness":  append(append([]string{"align"}, channelArgs(paths, outDir)...), "--red-brightness", "150"),
		"bad format":      append(append([]string{"align"}, channelArgs(paths, outDir)...), "--format", "gif"),
		"bad min matches": append(append([]string{"align"}, channelArgs(paths, outDir)...), "--min-matches", "1"),
		"missing file":    {"align", "-r", filepath.Join(outDir, "nope.png"), "-g", paths[1], "-b", paths[2], "-o", outDir},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			aligner := &recordingAligner{}
			_, err := execute(context.Background(), t, aligner.root(), args...)
			assert.Error(t, err)
			assert.Equal(t, 0, aligner.Calls())
		})
	}
}

func TestAlignEndToEnd(t *testing.T) {
	ref := synth.Texture(480, 360, 31)
	shifted, err := alignment.Warp(ref, geometry.Translation(-4, 2), 480, 360, alignment.InterpNearest)
	require.NoError(t, err)
	paths := writeChannels(t, channel.Triple{ref, shifted, ref})

	outDir := filepath.Join(t.TempDir(), "aligned")
	reportPath := filepath.Join(outDir, "report.csv")
	args := append([]string{"align"}, channelArgs(paths, outDir)...)
	args = append(args, "--report", reportPath)

	out, err := execute(context.Background(), t, newRoot(), args...)
	require.NoError(t, err)
	assert.Contains(t, out, "Green")
	assert.Contains(t, out, "Blue")

	for _, name := range outputNames {
		img, err := channel.Load(filepath.Join(outDir, name+".png"))
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 480, 360), img.Bounds())
	}
	red, err := channel.Load(filepath.Join(outDir, "r.png"))
	require.NoError(t, err)
	green, err := channel.Load(filepath.Join(outDir, "g.png"))
	require.NoError(t, err)
	rgb := loadColour(t, filepath.Join(outDir, combinedName+".png"))
	got := color.NRGBAModel.Convert(rgb.At(100, 80)).(color.NRGBA)
	assert.Equal(t, red.GrayAt(100, 80).Y, got.R)
	assert.Equal(t, green.GrayAt(100, 80).Y, got.G)

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	rows, err := report.Parse(data)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Green", rows[1].Channel)
	assert.InDelta(t, 4, rows[1].TX, 0.3)
	assert.InDelta(t, -2, rows[1].TY, 0.3)
}

func TestAlignUnrelatedChannelExitCode(t *testing.T) {
	ref := synth.Texture(480, 360, 32)
	paths := writeChannels(t, channel.Triple{ref, synth.Noise(480, 360, 5), ref})

	args := append([]string{"align"}, channelArgs(paths, t.TempDir())...)
	_, err := execute(context.Background(), t, newRoot(), args...)
	require.Error(t, err)
	code := ExitCode(err)
	assert.Contains(t, []int{ExitInsufficientMatches, ExitEstimationFailed}, code, "%v", err)
}

func TestSynthCommand(t *testing.T) {
	dir := t.TempDir()
	generated := filepath.Join(dir, "ref.png")
	out, err := execute(context.Background(), t, (&recordingAligner{}).root(),
		"synth", "-o", generated, "--width", "120", "--height", "90", "--seed", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "expected:")

	img, err := channel.Load(generated)
	require.NoError(t, err)
	assert.True(t, channel.Equal(synth.Texture(120, 90, 3), img))

	shifted := filepath.Join(dir, "shifted.png")
	_, err = execute(context.Background(), t, (&recordingAligner{}).root(),
		"synth", "-i", generated, "-o", shifted, "--tx", "3", "--ty", "-2", "--interp", "nearest")
	require.NoError(t, err)

	moved, err := channel.Load(shifted)
	require.NoError(t, err)
	assert.Equal(t, img.GrayAt(50, 50), moved.GrayAt(53, 48))
}

func TestWatchWritesOutputsUntilCancelled(t *testing.T) {
	img := synth.Texture(24, 16, 1)
	paths := writeChannels(t, channel.Triple{img, img, img})
	outDir := filepath.Join(t.TempDir(), "out")
	aligner := &recordingAligner{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		args := append([]string{"watch", "--debounce", "20ms"}, channelArgs(paths, outDir)...)
		_, err := execute(ctx, t, aligner.root(), args...)
		errCh <- err
	}()

	waitFor(t, func() bool {
		_, err := os.Stat(filepath.Join(outDir, "b.png"))
		return err == nil
	})

	// Rewriting green triggers a second alignment.
	require.NoError(t, channel.Save(paths[channel.Green], synth.Flat(24, 16, 9)))
	waitFor(t, func() bool { return aligner.Calls() >= 2 })
	waitFor(t, func() bool {
		g, err := channel.Load(filepath.Join(outDir, "g.png"))
		return err == nil && g.GrayAt(0, 0).Y == 9
	})

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestPrintSummarySkipsReference(t *testing.T) {
	r := &alignment.Result{}
	r.Reports[channel.Red] = alignment.ChannelReport{Channel: channel.Red}
	r.Reports[channel.Green] = alignment.ChannelReport{Channel: channel.Green, Matches: 12, Transform: geometry.Translation(1, 2)}
	r.Reports[channel.Blue] = alignment.ChannelReport{Channel: channel.Blue, Skipped: true}

	var buf bytes.Buffer
	printSummary(&buf, r)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "Green"))
	assert.Contains(t, lines[0], "matches=12")
	assert.Contains(t, lines[1], "skipped")
}
