// feed-mock posts synthetic change-feed events to the relay, simulating the
// hosted store's webhook for local testing.
package main

import (
	"bytes"
	"fmt"
	"log"
	"net/http"
	"time"
)

func main() {
	url := "http://localhost:8082/feed"

	events := []string{
		`{"eventType":"INSERT","table":"attendance_records","row":{"id":"9001","employeeid":"emp-1","checkintimestamp":"%s","status":"present"}}`,
		`{"eventType":"UPDATE","table":"attendance_records","row":{"id":"9001","employeeid":"emp-1","checkintimestamp":"%s","checkouttimestamp":"%s","status":"present"}}`,
		`{"eventType":"UPDATE","table":"attendance_records","row":{"id":"9002","employeeid":"emp-2","checkintimestamp":"not-a-date","status":"banana"}}`,
		`{"eventType":"DELETE","table":"attendance_records","row":{"id":"9001"}}`,
	}

	now := time.Now().UTC()
	checkIn := now.Add(-8 * time.Hour).Format(time.RFC3339)
	checkOut := now.Format(time.RFC3339)

	for i, tmpl := range events {
		var payload string
		switch i {
		case 0:
			payload = fmt.Sprintf(tmpl, checkIn)
		case 1:
			payload = fmt.Sprintf(tmpl, checkIn, checkOut)
		default:
			payload = tmpl
		}

		resp, err := http.Post(url, "application/json", bytes.NewBufferString(payload))
		if err != nil {
			log.Fatalf("posting event %d: %v", i, err)
		}
		log.Printf("event %d -> %s", i, resp.Status)
		resp.Body.Close()
		time.Sleep(500 * time.Millisecond)
	}
}
