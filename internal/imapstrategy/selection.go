package imapstrategy

import (
	"sort"

	"github.com/customeros/mailstack/internal/models"
)

// Selection is the folder → (uid → section-properties) map from spec.md §3,
// ordered by folder insertion order and, within a folder, ascending UID.
type Selection struct {
	order   []models.FolderId
	folders map[models.FolderId]map[models.ServerUID]models.SectionProperties
}

func NewSelection() *Selection {
	return &Selection{folders: make(map[models.FolderId]map[models.ServerUID]models.SectionProperties)}
}

// Add records that uid in folder should be fetched with the given section
// properties (zero value meaning whole message).
func (s *Selection) Add(folder models.FolderId, uid models.ServerUID, props models.SectionProperties) {
	if _, ok := s.folders[folder]; !ok {
		s.order = append(s.order, folder)
		s.folders[folder] = make(map[models.ServerUID]models.SectionProperties)
	}
	s.folders[folder][uid] = props
}

// Remove drops uid from folder's selection.
func (s *Selection) Remove(folder models.FolderId, uid models.ServerUID) {
	if m, ok := s.folders[folder]; ok {
		delete(m, uid)
	}
}

// Empty reports whether the selection has no folders with pending UIDs.
func (s *Selection) Empty() bool {
	for _, m := range s.folders {
		if len(m) > 0 {
			return false
		}
	}
	return true
}

// Folders returns the folders with pending entries, in insertion order.
func (s *Selection) Folders() []models.FolderId {
	var out []models.FolderId
	for _, f := range s.order {
		if len(s.folders[f]) > 0 {
			out = append(out, f)
		}
	}
	return out
}

// UIDsAscending returns folder's pending UIDs sorted in ascending numeric
// order (spec.md §4.3: "within each folder, UIDs in ascending numeric
// order"). UIDs that fail to parse a numeric suffix sort last, by string.
func (s *Selection) UIDsAscending(folder models.FolderId) []models.ServerUID {
	m := s.folders[folder]
	out := make([]models.ServerUID, 0, len(m))
	for uid := range m {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool {
		ui, oki := out[i].UID()
		uj, okj := out[j].UID()
		if oki && okj {
			return ui < uj
		}
		if oki != okj {
			return oki
		}
		return out[i] < out[j]
	})
	return out
}

// Properties returns the section properties recorded for uid in folder.
func (s *Selection) Properties(folder models.FolderId, uid models.ServerUID) models.SectionProperties {
	return s.folders[folder][uid]
}

// NextBatch returns, without removing them, up to n UIDs from folder's
// ascending order, honoring
// spec.md §4.3's "selectNextMessageSequence batches up to N UIDs into a
// single FETCH; part fetches and partial-range fetches break the batch" —
// a batch stops as soon as it would mix a whole-message entry with a
// part/range entry.
func (s *Selection) NextBatch(folder models.FolderId, n int) []models.ServerUID {
	ordered := s.UIDsAscending(folder)
	if len(ordered) == 0 {
		return nil
	}
	first := s.Properties(folder, ordered[0])
	batch := []models.ServerUID{ordered[0]}
	if !first.WholeMessage() {
		return batch
	}
	for _, uid := range ordered[1:] {
		if len(batch) >= n {
			break
		}
		props := s.Properties(folder, uid)
		if !props.WholeMessage() {
			break
		}
		batch = append(batch, uid)
	}
	return batch
}
