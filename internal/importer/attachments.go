package importer

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/roach88/issai/internal/entity"
	"github.com/roach88/issai/internal/repository"
)

// attachment is embedded content taken out of an entity's fields.
type attachment struct {
	path    string
	content []byte
}

// takeAttachments removes embedded content from the attachment entries of
// fields and returns it decoded. The stored fields keep the path only.
func takeAttachments(fields entity.Object) ([]attachment, error) {
	list, ok := fields[entity.FieldAttachments].(entity.List)
	if !ok {
		return nil, nil
	}
	var out []attachment
	for i, item := range list {
		att, ok := item.(entity.Object)
		if !ok {
			continue
		}
		raw, ok := att[entity.FieldContent]
		if !ok {
			continue
		}
		delete(att, entity.FieldContent)

		encoded, ok := raw.(entity.String)
		if !ok {
			return nil, fmt.Errorf("attachment %d: content must be a base64 string", i)
		}
		path, ok := att[entity.FieldPath].(entity.String)
		if !ok || path == "" {
			return nil, fmt.Errorf("attachment %d: content without a path", i)
		}
		data, err := base64.StdEncoding.DecodeString(string(encoded))
		if err != nil {
			return nil, fmt.Errorf("attachment %q: %w", string(path), err)
		}
		out = append(out, attachment{path: string(path), content: data})
	}
	return out, nil
}

// storeAttachments writes the embedded content of j. A target that cannot
// store attachments keeps the paths and gets a note.
func (r *run) storeAttachments(ctx context.Context, j job) bool {
	if len(j.attachments) == 0 || r.opts.DryRun {
		return true
	}
	w, ok := r.repo.(repository.AttachmentWriter)
	if !ok {
		r.note(fmt.Sprintf("%s: target cannot store attachments, %d dropped", j.e.Label(), len(j.attachments)))
		return true
	}
	for _, a := range j.attachments {
		if err := w.PutAttachment(ctx, a.path, a.content); err != nil {
			r.fail(j.e, fmt.Sprintf("write attachment %q", a.path), entity.NewStoreError(j.e.Kind, "put attachment", err))
			return false
		}
	}
	return true
}
