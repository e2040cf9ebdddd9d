package imapstrategy

// ExportUpdates is SynchronizeAll run with only the export half enabled:
// local flag/deletion changes are pushed to the server, but no new mail is
// retrieved (spec.md §4.3.4's ExportChanges path, exposed as its own
// RequestType per spec.md §6 since it reports through
// storageActionCompleted rather than retrievalCompleted).
type ExportUpdates struct {
	*SynchronizeAll
}

func NewExportUpdates(c *Context) *ExportUpdates {
	return &ExportUpdates{SynchronizeAll: NewSynchronizeAll(c, SynchronizeOptions{ExportChanges: true, RetrieveMail: false})}
}

var _ FolderListStrategy = (*ExportUpdates)(nil)
