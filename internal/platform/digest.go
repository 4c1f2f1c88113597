package platform

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/viralboost/boostd/internal/storage"
)

// digestSubjectPrefix is prepended to every outgoing digest subject.
const digestSubjectPrefix = "ViralBoost Digest - "

// digestTmpl is the HTML wrapper applied to the missed-notification digest.
// All fields are auto-escaped by html/template.
var digestTmpl = template.Must(template.New("digest").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width,initial-scale=1.0">
  <title>{{.Subject}}</title>
</head>
<body style="margin:0;padding:0;background-color:#f4f4f5;
     font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,Arial,sans-serif;">
  <table width="100%" cellpadding="0" cellspacing="0" role="presentation"
         style="background-color:#f4f4f5;padding:40px 16px;">
    <tr>
      <td align="center">
        <table width="600" cellpadding="0" cellspacing="0" role="presentation"
               style="max-width:600px;width:100%;">
          <tr>
            <td style="background-color:#111827;padding:28px 40px;border-radius:12px 12px 0 0;">
              <span style="font-size:20px;font-weight:700;color:#ffffff;letter-spacing:-0.3px;">ViralBoost</span>
              <span style="display:block;font-size:11px;color:#9ca3af;margin-top:1px;letter-spacing:0.3px;">
                Missed notifications
              </span>
            </td>
          </tr>
          {{range .Entries}}
          <tr>
            <td style="background-color:#ffffff;padding:20px 40px;border-bottom:1px solid #e5e7eb;">
              <p style="margin:0;font-size:14px;font-weight:600;color:#111827;">{{.Title}}</p>
              <p style="margin:6px 0 0;font-size:13px;line-height:1.6;color:#4b5563;">{{.Body}}</p>
              <p style="margin:8px 0 0;font-size:11px;color:#9ca3af;">{{.CreatedAt.Format "Jan 2 15:04"}}</p>
            </td>
          </tr>
          {{end}}
          <tr>
            <td style="background-color:#f9fafb;padding:20px 40px;
                       border-top:1px solid #e5e7eb;border-radius:0 0 12px 12px;">
              <p style="margin:0;font-size:12px;color:#9ca3af;">
                You received this digest because these notifications arrived while no
                ViralBoost window was open.
              </p>
            </td>
          </tr>
        </table>
      </td>
    </tr>
  </table>
</body>
</html>
`))

// BuildDigest assembles one Message summarizing the queued entries. It
// returns an error when entries is empty; callers should not send hollow
// digests.
func BuildDigest(entries []storage.NotificationEntry) (Message, error) {
	if len(entries) == 0 {
		return Message{}, fmt.Errorf("empty digest")
	}

	subject := digestSubjectPrefix + fmt.Sprintf("%d missed notification", len(entries))
	if len(entries) > 1 {
		subject += "s"
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s: %s (%s)", e.Title, e.Body, e.CreatedAt.Format("Jan 2 15:04")))
	}
	body := strings.Join(lines, "\n")

	var buf bytes.Buffer
	err := digestTmpl.Execute(&buf, struct {
		Subject string
		Entries []storage.NotificationEntry
	}{subject, entries})
	if err != nil {
		return Message{}, fmt.Errorf("rendering digest template: %w", err)
	}

	return Message{Subject: subject, Body: body, HTML: buf.String()}, nil
}
