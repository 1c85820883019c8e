package push

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPlatformHints_NoImage(t *testing.T) {
	h := BuildPlatformHints("")
	assert.Nil(t, h.Android)
	assert.Nil(t, h.APNS)
}

func TestBuildPlatformHints_Image(t *testing.T) {
	h := BuildPlatformHints("https://cdn.example/x.png")
	require.NotNil(t, h.Android)
	require.NotNil(t, h.APNS)

	assert.Equal(t, "https://cdn.example/x.png", h.Android.Notification.Image)
	assert.Equal(t, 1, h.APNS.Payload.APS["mutable-content"])
	assert.Equal(t, "https://cdn.example/x.png", h.APNS.FCMOptions.Image)
}

func TestMessage_DisplayBodyPrefersDescription(t *testing.T) {
	assert.Equal(t, "body", Message{Body: "body"}.DisplayBody())
	assert.Equal(t, "desc", Message{Body: "body", Description: "desc"}.DisplayBody())
}

func TestBuildEnvelope_WireShape(t *testing.T) {
	m := Message{
		Title: "UMak LINK Announcement",
		Body:  "Lab closed",
		Data: map[string]string{
			"type":                   "global_announcement",
			"global_announcement_id": "a1",
			DataImageURL:             "https://cdn.example/x.png",
		},
	}
	raw, err := json.Marshal(buildEnvelope("tok-1", m))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))

	msg := got["message"].(map[string]any)
	assert.Equal(t, "tok-1", msg["token"])
	assert.Equal(t, map[string]any{"title": "UMak LINK Announcement", "body": "Lab closed"}, msg["notification"])
	assert.Equal(t, "a1", msg["data"].(map[string]any)["global_announcement_id"])

	android := msg["android"].(map[string]any)["notification"].(map[string]any)
	assert.Equal(t, "https://cdn.example/x.png", android["image"])

	apns := msg["apns"].(map[string]any)
	aps := apns["payload"].(map[string]any)["aps"].(map[string]any)
	assert.EqualValues(t, 1, aps["mutable-content"])
	assert.Equal(t, "https://cdn.example/x.png", apns["fcm_options"].(map[string]any)["image"])
}

func TestBuildEnvelope_OmitsPlatformBlocksWithoutImage(t *testing.T) {
	raw, err := json.Marshal(buildEnvelope("tok-1", Message{Title: "t", Body: "b"}))
	require.NoError(t, err)

	var got map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	_, hasAndroid := got["message"]["android"]
	_, hasAPNS := got["message"]["apns"]
	_, hasData := got["message"]["data"]
	assert.False(t, hasAndroid)
	assert.False(t, hasAPNS)
	assert.False(t, hasData)
}
