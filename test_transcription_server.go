package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Standalone mock of the remote transcription service for local agent
// testing. Run with: go run test_transcription_server.go
// Point delivery.endpoint at http://localhost:8000/transcribe and
// delivery.enroll_endpoint at http://localhost:8000/enroll.

type Segment struct {
	TranscriptID   string    `json:"transcript_id"`
	SpeakerType    string    `json:"speaker_type"`
	SpeakerName    string    `json:"speaker_name"`
	Text           string    `json:"text"`
	TimestampStart time.Time `json:"timestamp_start"`
	TimestampEnd   time.Time `json:"timestamp_end"`
}

type TranscribeResponse struct {
	Processed        bool      `json:"processed"`
	Segments         []Segment `json:"segments"`
	FilteredSegments int       `json:"filtered_segments"`
	SessionID        string    `json:"session_id"`
}

type EnrollResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func transcribeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Parse multipart form
	if err := r.ParseMultipartForm(10 << 20); err != nil { // 10 MB
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	timestampStart := r.FormValue("timestamp_start")
	timestampEnd := r.FormValue("timestamp_end")
	latitude := r.FormValue("latitude")
	longitude := r.FormValue("longitude")

	file, header, err := r.FormFile("audio")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	log.Printf("TRANSCRIBE REQUEST:")
	log.Printf("  Filename: %s", header.Filename)
	log.Printf("  Audio Size: %d bytes", len(audioData))
	log.Printf("  Window: %s .. %s", timestampStart, timestampEnd)
	if latitude != "" {
		log.Printf("  Location: %s, %s", latitude, longitude)
	}
	log.Printf("  Auth: %s", r.Header.Get("Authorization"))

	// Simulate processing time
	time.Sleep(200 * time.Millisecond)

	start, _ := time.Parse(time.RFC3339, timestampStart)
	end, _ := time.Parse(time.RFC3339, timestampEnd)

	response := TranscribeResponse{
		Processed: true,
		Segments: []Segment{
			{
				TranscriptID:   fmt.Sprintf("t-%d", time.Now().UnixMilli()),
				SpeakerType:    "user",
				SpeakerName:    "test-user",
				Text:           "This is a mock transcription of the uploaded window",
				TimestampStart: start,
				TimestampEnd:   end,
			},
		},
		FilteredSegments: 0,
		SessionID:        "mock-session",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

func enrollHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	log.Printf("ENROLL REQUEST: %s, %d bytes", header.Filename, len(audioData))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(EnrollResponse{
		Success: true,
		Message: "voiceprint enrolled",
	})
}

func main() {
	http.HandleFunc("/transcribe", transcribeHandler)
	http.HandleFunc("/enroll", enrollHandler)

	log.Printf("Mock transcription server listening on :8000")
	log.Printf("  POST /transcribe")
	log.Printf("  POST /enroll")

	if err := http.ListenAndServe(":8000", nil); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
