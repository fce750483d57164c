package dashboard

// Action identifies one independent action state machine.
type Action int

const (
	ActionQuery Action = iota
	ActionUpload
	ActionSummarize
	// ActionIndex covers both listing documents and resetting the index.
	ActionIndex

	actionCount
)

func (a Action) String() string {
	switch a {
	case ActionQuery:
		return "query"
	case ActionUpload:
		return "upload"
	case ActionSummarize:
		return "summarize"
	case ActionIndex:
		return "index"
	}
	return "unknown"
}

// Phase is the lifecycle position of one action.
type Phase int

const (
	// Idle means the action has not run, or was skipped.
	Idle Phase = iota
	InFlight
	Succeeded
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case InFlight:
		return "in_flight"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Method selects the summarization strategy.
type Method string

const (
	MethodBasic  Method = "basic"
	MethodVector Method = "vector"
)

// Section is the visible part of the dashboard.
type Section string

const (
	SectionQuery     Section = "query"
	SectionUpload    Section = "upload"
	SectionDocuments Section = "documents"
	SectionSummary   Section = "summary"
)

// Sections lists the dashboard sections in navigation order.
var Sections = []Section{SectionQuery, SectionUpload, SectionDocuments, SectionSummary}

// ParseSection returns the section named s.
func ParseSection(s string) (Section, bool) {
	for _, sec := range Sections {
		if string(sec) == s {
			return sec, true
		}
	}
	return "", false
}

// Label is the navigation label of the section.
func (s Section) Label() string {
	switch s {
	case SectionQuery:
		return "Consultas"
	case SectionUpload:
		return "Subir PDFs"
	case SectionDocuments:
		return "Documentos"
	case SectionSummary:
		return "Resúmenes"
	}
	return string(s)
}

// User-facing failure messages, one per action.
const (
	MsgQueryFailed     = "Error al realizar la consulta"
	MsgSummarizeFailed = "Error al generar resumen"
	MsgUploadFailed    = "Error al subir archivos"
	MsgListFailed      = "Error al cargar documentos"
	MsgResetFailed     = "Error al resetear índice"

	MsgResetDone   = "Índice reseteado exitosamente"
	MsgResetPrompt = "¿Estás seguro de que quieres resetear el índice? Esto eliminará todos los documentos."
)
