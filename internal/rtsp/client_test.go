package rtsp

import (
	"io"
	"testing"

	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestNewFeedRejectsBadURL(t *testing.T) {
	_, err := NewFeed("::not a url", quietLogger())
	assert.Error(t, err)

	f, err := NewFeed("rtsp://192.168.1.20:554/stream1", quietLogger())
	require.NoError(t, err)
	assert.Equal(t, "rtsp://192.168.1.20:554/stream1", f.URL())
	assert.False(t, f.Connected())
}

func TestPickVideo(t *testing.T) {
	audio := &description.Media{Type: description.MediaTypeAudio, Formats: []format.Format{&format.G711{}}}
	mjpeg := &description.Media{Type: description.MediaTypeVideo, Formats: []format.Format{&format.MJPEG{}}}
	h264 := &description.Media{Type: description.MediaTypeVideo, Formats: []format.Format{&format.H264{PayloadTyp: 96}}}

	media, forma := pickVideo(&description.Session{Medias: []*description.Media{audio, mjpeg, h264}})
	assert.Same(t, h264, media)
	assert.IsType(t, &format.H264{}, forma)

	media, _ = pickVideo(&description.Session{Medias: []*description.Media{audio, mjpeg}})
	assert.Same(t, mjpeg, media)

	media, forma = pickVideo(&description.Session{Medias: []*description.Media{audio}})
	assert.Nil(t, media)
	assert.Nil(t, forma)
}

func TestFanOut(t *testing.T) {
	f, err := NewFeed("rtsp://camera/stream", quietLogger())
	require.NoError(t, err)

	fast, cancelFast := f.Subscribe(4)
	slow, _ := f.Subscribe(1)
	defer cancelFast()

	f.deliver([]byte{1})
	f.deliver([]byte{2})

	assert.Equal(t, []byte{1}, <-fast)
	assert.Equal(t, []byte{2}, <-fast)
	assert.Equal(t, []byte{1}, <-slow)
	assert.EqualValues(t, 1, f.Dropped())

	require.NoError(t, f.Close())
	_, ok := <-slow
	assert.False(t, ok)
	cancelFast()

	late, _ := f.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
}
