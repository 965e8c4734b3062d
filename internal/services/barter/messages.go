package barter

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"github.com/IlyasAtabaev731/barter-market/internal/domain/models"
	"github.com/IlyasAtabaev731/barter-market/internal/notify"
)

const (
	subjectInitiated = "Barter Request Initiated"
	subjectApproved  = "Your barter has been approved!"
	subjectDeclined  = "Your barter request was declined"
)

var initiatedTmpl = template.Must(template.New("initiated").Parse(`<p>{{.Initiator}} has initiated a barter request for your product.</p>
<p><strong>Products involved:</strong></p>
<ul>
  <li>They offer: <strong>{{.Offered}}</strong></li>
  <li>For your: <strong>{{.Requested}}</strong></li>
</ul>
<p><a href="{{.Link}}">Approve or Decline Barter</a></p>
<p>If you approve, both products will be marked as unavailable.</p>
<p>Or copy/paste this link: <br/>{{.Link}}</p>
`))

var decidedTmpl = template.Must(template.New("decided").Parse(`<p>Hi {{.Initiator}},</p>
{{if .Approved}}<p>Your barter request (ID: {{.ID}}) has been approved by {{.Counterparty}}.</p>
{{else}}<p>We're sorry to inform you that your barter request (ID: {{.ID}}) was declined by {{.Counterparty}}.</p>
{{end}}<p><strong>Products involved:</strong></p>
<ul>
  <li>You offered: <strong>{{.Offered}}</strong></li>
  <li>You requested: <strong>{{.Requested}}</strong></li>
</ul>
{{if .Approved}}<p>Both items are now marked as <em>unavailable</em> on the platform.</p>
{{else}}<p>Feel free to browse other items or try again later.</p>
{{end}}`))

// respondLink builds the approve/decline link sent to the counterparty.
func respondLink(frontendURL, barterID string) string {
	return strings.TrimRight(frontendURL, "/") + "/dakesh/respond?barterId=" + url.QueryEscape(barterID)
}

func initiatedMessage(to, initiator, frontendURL string, b *models.Barter, offered, requested *models.Item) (notify.Message, error) {
	var buf bytes.Buffer
	err := initiatedTmpl.Execute(&buf, struct {
		Initiator, Offered, Requested, Link string
	}{
		Initiator: initiator,
		Offered:   offered.Title,
		Requested: requested.Title,
		Link:      respondLink(frontendURL, b.ID),
	})
	if err != nil {
		return notify.Message{}, fmt.Errorf("render initiated message: %w", err)
	}
	return notify.Message{To: to, Subject: subjectInitiated, Body: buf.String()}, nil
}

func decidedMessage(d *models.BarterDetails) (notify.Message, error) {
	approved := d.Status == models.BarterApproved
	subject := subjectDeclined
	if approved {
		subject = subjectApproved
	}

	var buf bytes.Buffer
	err := decidedTmpl.Execute(&buf, struct {
		ID, Initiator, Counterparty, Offered, Requested string
		Approved                                        bool
	}{
		ID:           d.ID,
		Initiator:    d.OfferedBy.Username,
		Counterparty: d.RequestedFrom.Username,
		Offered:      d.ProductOffered.Title,
		Requested:    d.ProductRequested.Title,
		Approved:     approved,
	})
	if err != nil {
		return notify.Message{}, fmt.Errorf("render decision message: %w", err)
	}
	return notify.Message{To: d.OfferedBy.Email, Subject: subject, Body: buf.String()}, nil
}
