package push

// Message is one announcement push, independent of the device it goes to.
// Description, when non-empty, is shown instead of Body.
type Message struct {
	Title       string
	Body        string
	Description string
	Data        map[string]string
}

// DataImageURL is the data key that triggers rich image hints.
const DataImageURL = "image_url"

// DisplayBody returns the text rendered under the title.
func (m Message) DisplayBody() string {
	if m.Description != "" {
		return m.Description
	}
	return m.Body
}

// Notification is the cross-platform notification block.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// AndroidConfig carries Android specific rendering options.
type AndroidConfig struct {
	Notification AndroidNotification `json:"notification"`
}

// AndroidNotification sets the big-picture image on Android.
type AndroidNotification struct {
	Image string `json:"image"`
}

// APNSConfig carries APNs specific rendering options.
type APNSConfig struct {
	Payload    APNSPayload    `json:"payload"`
	FCMOptions APNSFCMOptions `json:"fcm_options"`
}

// APNSPayload is the raw APNs payload. mutable-content lets the iOS
// notification service extension download the image.
type APNSPayload struct {
	APS map[string]any `json:"aps"`
}

// APNSFCMOptions is the FCM-side image option for APNs.
type APNSFCMOptions struct {
	Image string `json:"image"`
}

// PlatformHints are the per-platform blocks attached to a message.
// Both are nil when no image is set.
type PlatformHints struct {
	Android *AndroidConfig
	APNS    *APNSConfig
}

// BuildPlatformHints returns the image hints for imageURL, or empty hints
// when imageURL is blank.
func BuildPlatformHints(imageURL string) PlatformHints {
	if imageURL == "" {
		return PlatformHints{}
	}
	return PlatformHints{
		Android: &AndroidConfig{Notification: AndroidNotification{Image: imageURL}},
		APNS: &APNSConfig{
			Payload:    APNSPayload{APS: map[string]any{"mutable-content": 1}},
			FCMOptions: APNSFCMOptions{Image: imageURL},
		},
	}
}

type wireMessage struct {
	Token        string            `json:"token"`
	Notification Notification      `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
	Android      *AndroidConfig    `json:"android,omitempty"`
	APNS         *APNSConfig       `json:"apns,omitempty"`
}

type envelope struct {
	Message wireMessage `json:"message"`
}

func buildEnvelope(token string, m Message) envelope {
	hints := BuildPlatformHints(m.Data[DataImageURL])
	return envelope{Message: wireMessage{
		Token:        token,
		Notification: Notification{Title: m.Title, Body: m.DisplayBody()},
		Data:         m.Data,
		Android:      hints.Android,
		APNS:         hints.APNS,
	}}
}
