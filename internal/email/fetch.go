package email

import (
	"context"
	"io"

	"github.com/emersion/go-imap"
)

// FetchProfile selects which items a batch fetch asks for
type FetchProfile int

const (
	// ProfileHeaders is enough for list views and thread ids
	ProfileHeaders FetchProfile = iota
	// ProfileDetail adds the full message source
	ProfileDetail
)

// headerFields are the header lines needed beyond the envelope
var headerFields = []string{"Content-Type", "Message-ID", "In-Reply-To", "References"}

var (
	headerSection = &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{
			Specifier: imap.HeaderSpecifier,
			Fields:    headerFields,
		},
		Peek: true,
	}
	fullSection = &imap.BodySectionName{Peek: true}
)

func (p FetchProfile) items() []imap.FetchItem {
	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchFlags,
		imap.FetchUid,
		imap.FetchInternalDate,
		headerSection.FetchItem(),
	}
	if p == ProfileDetail {
		items = append(items, fullSection.FetchItem())
	}
	return items
}

// Prefetch loads every message of seqset in a single FETCH
func Prefetch(ctx context.Context, conn Conn, seqset *imap.SeqSet, profile FetchProfile) ([]*imap.Message, error) {
	if seqset == nil || seqset.Empty() {
		return nil, nil
	}
	return conn.Fetch(ctx, seqset, profile.items())
}

// seqSetOf builds a set from individual sequence numbers
func seqSetOf(nums ...uint32) *imap.SeqSet {
	set := new(imap.SeqSet)
	set.AddNum(nums...)
	return set
}

// sectionBody reads the literal for the requested header fields or the full
// message. Server responses never echo PEEK, so lookup goes by part name.
func sectionBody(msg *imap.Message, header bool) []byte {
	for section, literal := range msg.Body {
		if section == nil || literal == nil || len(section.Path) > 0 {
			continue
		}
		wanted := imap.EntireSpecifier
		if header {
			wanted = imap.HeaderSpecifier
		}
		if section.Specifier != wanted {
			continue
		}
		b, err := io.ReadAll(literal)
		if err != nil {
			return nil
		}
		return b
	}
	return nil
}
