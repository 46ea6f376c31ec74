package pinning

import (
	"io"
	"mime/multipart"
	"sort"
)

// multipartWriter — обёртка multipart.Writer для потоковой записи.
type multipartWriter struct {
	*multipart.Writer
}

func newMultipartWriter(w io.Writer) *multipartWriter {
	return &multipartWriter{Writer: multipart.NewWriter(w)}
}

// writeAll пишет поля (в детерминированном порядке), затем файл, затем закрывающую границу.
func (m *multipartWriter) writeAll(field, name string, content io.Reader, fields map[string]string) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := m.WriteField(k, fields[k]); err != nil {
			return err
		}
	}

	part, err := m.CreateFormFile(field, name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, content); err != nil {
		return err
	}
	return m.Close()
}
