package jsonapi

// NewErrorDocument wraps errs in a document.
func NewErrorDocument(errs ...Error) Document {
	return Document{Errors: errs}
}

// NewMetaDocument wraps meta in a document.
func NewMetaDocument(meta Meta) Document {
	return Document{Meta: meta}
}
