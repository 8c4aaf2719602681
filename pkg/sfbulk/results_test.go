package sfbulk_test

import (
	"context"
	"errors"
	"testing"

	"github.com/fivetwenty-io/sfbulk/pkg/sfbulk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pagedFetcher(pages map[string]sfbulk.Page, calls *[]string) sfbulk.PageFetcher {
	return func(_ context.Context, locator string) (sfbulk.Page, error) {
		*calls = append(*calls, locator)

		page, ok := pages[locator]
		if !ok {
			return sfbulk.Page{}, errors.New("unknown locator")
		}

		return page, nil
	}
}

func TestRecordIterator_Pages(t *testing.T) {
	t.Parallel()

	var calls []string

	iterator := sfbulk.NewRecordIterator(context.Background(), sfbulk.DefaultContentFormat(), pagedFetcher(map[string]sfbulk.Page{
		"":     {Body: []byte("Id,Name\n001A,Acme\n"), Next: "LOC1"},
		"LOC1": {Body: []byte("Id,Name\n"), Next: "LOC2"},
		"LOC2": {Body: []byte("Id,Name\n001B,\"Globex, Inc.\"\n")},
	}, &calls))

	assert.Empty(t, calls, "nothing is fetched before iteration")

	records, err := iterator.All()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"", "LOC1", "LOC2"}, calls)
	assert.Equal(t, 3, iterator.Pages())

	name, ok := records[1].Get("Name")
	require.True(t, ok)
	assert.Equal(t, "Globex, Inc.", name)

	_, ok = records[1].Get("Missing")
	assert.False(t, ok)

	assert.False(t, iterator.HasNext())
	assert.Len(t, calls, 3, "an exhausted iterator does not refetch")
}

func TestRecordIterator_Errors(t *testing.T) {
	t.Parallel()

	var calls []string

	iterator := sfbulk.NewRecordIterator(context.Background(), sfbulk.DefaultContentFormat(), pagedFetcher(map[string]sfbulk.Page{
		"": {Body: []byte("Id\n001A\n"), Next: "gone"},
	}, &calls))

	records, err := iterator.All()
	require.Error(t, err)
	assert.Len(t, records, 1)
	require.ErrorIs(t, iterator.Err(), err)

	_, err = iterator.Next()
	require.Error(t, err)
}

func TestRecordIterator_StalledLocator(t *testing.T) {
	t.Parallel()

	var calls []string

	iterator := sfbulk.NewRecordIterator(context.Background(), sfbulk.DefaultContentFormat(), pagedFetcher(map[string]sfbulk.Page{
		"":     {Body: []byte("Id\n001A\n"), Next: "LOC1"},
		"LOC1": {Body: []byte("Id\n001B\n"), Next: "LOC1"},
	}, &calls))

	records, err := iterator.All()
	require.ErrorIs(t, err, sfbulk.ErrStalledContinuation)
	assert.Equal(t, sfbulk.KindSerialization, sfbulk.KindOf(err))
	assert.Len(t, records, 2)
	assert.Equal(t, []string{"", "LOC1"}, calls)
	assert.False(t, iterator.HasNext())
}

func TestRecordIterator_Delimiter(t *testing.T) {
	t.Parallel()

	var calls []string

	format := sfbulk.ContentFormat{ColumnDelimiter: sfbulk.DelimiterPipe, LineEnding: sfbulk.LineEndingCRLF}
	iterator := sfbulk.NewRecordIterator(context.Background(), format, pagedFetcher(map[string]sfbulk.Page{
		"": {Body: []byte("Id|Name\r\n001A|Acme, Inc.\r\n")},
	}, &calls))

	record, err := iterator.Next()
	require.NoError(t, err)
	assert.Equal(t, []string{"001A", "Acme, Inc."}, record.Values())
	assert.Equal(t, []string{"Id", "Name"}, iterator.Header())
}

func TestEmptyRecordIterator(t *testing.T) {
	t.Parallel()

	iterator := sfbulk.EmptyRecordIterator()
	assert.False(t, iterator.HasNext())

	_, err := iterator.Next()
	require.ErrorIs(t, err, sfbulk.ErrNoMoreRecords)

	records, err := iterator.All()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestEncodeCSV(t *testing.T) {
	t.Parallel()

	rows := [][]string{{"Acme", "Manufacturing"}, {"Globex, Inc.", "Energy"}}

	data, err := sfbulk.EncodeCSV(sfbulk.DefaultContentFormat(), []string{"Name", "Industry"}, rows)
	require.NoError(t, err)
	assert.Equal(t, "Name,Industry\nAcme,Manufacturing\n\"Globex, Inc.\",Energy\n", string(data))

	data, err = sfbulk.EncodeCSV(sfbulk.ContentFormat{ColumnDelimiter: sfbulk.DelimiterSemicolon, LineEnding: sfbulk.LineEndingCRLF}, []string{"Name"}, [][]string{{"Acme"}})
	require.NoError(t, err)
	assert.Equal(t, "Name\r\nAcme\r\n", string(data))

	parsed, err := sfbulk.ParseCSVRows([]byte("Name,Industry\nAcme,Manufacturing\n\"Globex, Inc.\",Energy\n"), sfbulk.DefaultContentFormat())
	require.NoError(t, err)
	assert.Equal(t, append([][]string{{"Name", "Industry"}}, rows...), parsed)
}
