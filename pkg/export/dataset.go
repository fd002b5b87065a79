package export

// Dataset defines tabular export content.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// Section is one titled table of a document, e.g. a stream's week.
type Section struct {
	Title string
	Data  Dataset
}

// Document is an ordered list of sections rendered under a common title.
type Document struct {
	Title    string
	Sections []Section
}
