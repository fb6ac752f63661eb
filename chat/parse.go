package chat

import (
	"archive/zip"
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var messagePattern = regexp.MustCompile(`^\[(\d{1,2}/\d{1,2}/\d{2,4}),\s*(\d{1,2}:\d{2}:\d{2}\s*[AP]M)\]\s*([^:]+):\s*(.*)$`)

var mediaPatterns = []struct {
	kind    string
	pattern *regexp.Regexp
}{
	{"image", regexp.MustCompile(`(?i)^image omitted$`)},
	{"video", regexp.MustCompile(`(?i)^video omitted$`)},
	{"audio", regexp.MustCompile(`(?i)^audio omitted$`)},
	{"gif", regexp.MustCompile(`(?i)^gif omitted$`)},
	{"sticker", regexp.MustCompile(`(?i)^sticker omitted$`)},
	{"document", regexp.MustCompile(`(?i)^document omitted$`)},
	{"contact", regexp.MustCompile(`(?i)^contact card omitted$`)},
}

var systemPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^this message was deleted\.?$`),
	regexp.MustCompile(`(?i)^you deleted this message\.?$`),
	regexp.MustCompile(`(?i)^messages and calls are end-to-end encrypted`),
	regexp.MustCompile(`(?i)^missed (voice|video) call$`),
}

// invisible marks WhatsApp inserts around placeholders and timestamps.
var invisible = strings.NewReplacer(
	"\u200e", "",
	"\u200f", "",
	"\ufeff", "",
	"\u202f", " ",
	"\u00a0", " ",
)

// Parse reads a chat export and returns its messages in order.
//
// Lines that do not start a message are appended to the previous message.
// System notices (deleted messages, missed calls, encryption banners) are
// dropped. Message IDs are assigned sequentially from 0.
func Parse(r io.Reader) ([]Message, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var (
		messages []Message
		current  *Message
	)
	flush := func() {
		if current == nil {
			return
		}
		if !isSystem(current.Content) {
			current.ID = len(messages)
			current.HasMedia, current.MediaType = detectMedia(current.Content)
			current.URLs = ExtractURLs(current.Content)
			messages = append(messages, *current)
		}
		current = nil
	}

	for scanner.Scan() {
		line := invisible.Replace(strings.TrimRight(scanner.Text(), "\r"))
		m := messagePattern.FindStringSubmatch(line)
		if m == nil {
			if current != nil {
				current.Content += "\n" + line
			}
			continue
		}
		ts, err := parseTimestamp(m[1], m[2])
		if err != nil {
			// A malformed timestamp is treated like any other continuation text.
			if current != nil {
				current.Content += "\n" + line
			}
			continue
		}
		flush()
		current = &Message{
			Timestamp: ts,
			Sender:    strings.TrimSpace(m[3]),
			Content:   m[4],
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chat: %w", err)
	}
	flush()
	if messages == nil {
		messages = []Message{}
	}
	return messages, nil
}

// ParseFile parses a .txt export or a .zip archive containing one.
// Inside an archive, _chat.txt is preferred over any other .txt entry.
func ParseFile(name string) ([]Message, error) {
	if strings.EqualFold(filepath.Ext(name), ".zip") {
		return parseZip(name)
	}
	f, err := os.Open(name) // #nosec G304 -- user-selected input file
	if err != nil {
		return nil, fmt.Errorf("failed to open chat: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

func parseZip(name string) ([]Message, error) {
	zr, err := zip.OpenReader(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = zr.Close() }()

	var chosen *zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(path.Ext(f.Name), ".txt") {
			continue
		}
		if path.Base(f.Name) == "_chat.txt" {
			chosen = f
			break
		}
		if chosen == nil {
			chosen = f
		}
	}
	if chosen == nil {
		return nil, fmt.Errorf("archive %s contains no .txt chat export", filepath.Base(name))
	}

	rc, err := chosen.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s in archive: %w", chosen.Name, err)
	}
	defer func() { _ = rc.Close() }()
	return Parse(rc)
}

func parseTimestamp(date, clock string) (time.Time, error) {
	layout := "1/2/06"
	if parts := strings.Split(date, "/"); len(parts) == 3 && len(parts[2]) == 4 {
		layout = "1/2/2006"
	}
	clock = strings.Join(strings.Fields(clock), " ")
	if !strings.Contains(clock, " ") {
		// "7:05:12PM"
		clock = clock[:len(clock)-2] + " " + clock[len(clock)-2:]
	}
	return time.Parse(layout+" 3:04:05 PM", date+" "+clock)
}

func detectMedia(content string) (bool, string) {
	c := strings.TrimSpace(content)
	for _, m := range mediaPatterns {
		if m.pattern.MatchString(c) {
			return true, m.kind
		}
	}
	return false, ""
}

func isSystem(content string) bool {
	c := strings.TrimSpace(content)
	for _, p := range systemPatterns {
		if p.MatchString(c) {
			return true
		}
	}
	return false
}
