package notify

import (
	"fmt"
	"strconv"
)

// AudioFilename is the attachment name used for SOS recordings.
const AudioFilename = "emergency_audio.webm"

// MapsURL links to a Google Maps pin at the given coordinates.
func MapsURL(lat, lng float64) string {
	return "https://www.google.com/maps?q=" + formatCoord(lat) + "," + formatCoord(lng)
}

// LocationMessage is the first emergency email, sent as soon as an alert is
// raised.
func LocationMessage(to, username string, lat, lng float64) Message {
	body := fmt.Sprintf("EMERGENCY SOS ALERT\n\n"+
		"%s needs immediate help!\n\n"+
		"📍 LIVE LOCATION: %s\n"+
		"Coordinates: %s, %s\n\n"+
		"IMMEDIATE ACTION REQUIRED!\n"+
		"This is an automated SOS alert from Proteeti.\n"+
		"An audio recording will follow shortly.",
		username, MapsURL(lat, lng), formatCoord(lat), formatCoord(lng))

	return Message{
		To:      to,
		Subject: "🚨 EMERGENCY SOS ALERT - LOCATION",
		Body:    body,
	}
}

// AudioMessage is the follow-up email carrying the recording.
func AudioMessage(to, username string, audio []byte) Message {
	body := fmt.Sprintf("EMERGENCY SOS ALERT - AUDIO EVIDENCE\n\n"+
		"%s emergency audio recording (2 minutes) is attached.\n\n"+
		"Please review and take immediate action if needed.\n\n"+
		"This is an automated SOS alert from Proteeti.",
		username)

	return Message{
		To:      to,
		Subject: "🚨 EMERGENCY SOS ALERT - AUDIO RECORDING",
		Body:    body,
		Attachments: []Attachment{{
			Filename:    AudioFilename,
			ContentType: "audio/webm",
			Data:        audio,
		}},
	}
}

// VerificationMessage carries the registration code.
func VerificationMessage(to, code string) Message {
	return Message{
		To:      to,
		Subject: "Proteeti Email Verification Code",
		Body: "Your Proteeti verification code is: " + code + "\n\n" +
			"This code expires in 10 minutes.\n" +
			"If you did not request this, you can ignore this email.",
	}
}

// formatCoord prints the shortest decimal that round-trips, so 23.8 stays
// "23.8" rather than "23.800000".
func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
