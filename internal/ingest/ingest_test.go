package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dialogdb/internal/discovery"
	"dialogdb/internal/script"
	"dialogdb/internal/storage"
	_ "dialogdb/internal/storage/sqlite"
	"dialogdb/internal/tabular"
)

type testDB struct {
	repo storage.Repository
	raw  *sql.DB
}

func newTestDB(t *testing.T) *testDB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "dialog.db")
	repo, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	raw, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	return &testDB{repo: repo, raw: raw}
}

// inSession runs fn in one session and commits it.
func (db *testDB) inSession(t *testing.T, fn func(sess storage.Session) (Stats, error)) (Stats, error) {
	t.Helper()
	ctx := context.Background()
	sess, err := db.repo.Begin(ctx)
	require.NoError(t, err)
	st, err := fn(sess)
	if err != nil {
		require.NoError(t, sess.Rollback(ctx))
		return st, err
	}
	require.NoError(t, sess.Commit(ctx))
	return st, nil
}

func (db *testDB) baseline(t *testing.T, table string, src *tabular.Source) Stats {
	t.Helper()
	st, err := db.inSession(t, func(sess storage.Session) (Stats, error) {
		return LoadBaseline(context.Background(), sess, table, src, Options{})
	})
	require.NoError(t, err)
	return st
}

func (db *testDB) merge(t *testing.T, table string, src *tabular.Source, opts Options) (Stats, error) {
	t.Helper()
	return db.inSession(t, func(sess storage.Session) (Stats, error) {
		return MergeImport(context.Background(), sess, table, src, opts)
	})
}

func (db *testDB) columns(t *testing.T, table string) []string {
	t.Helper()
	cols, err := db.repo.TableColumns(context.Background(), table)
	require.NoError(t, err)
	return cols
}

func (db *testDB) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.raw.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, table)).Scan(&n))
	return n
}

// cell reads one column of the row whose _key equals key. NULL reads as nil.
func (db *testDB) cell(t *testing.T, table, column, key string) any {
	t.Helper()
	var v sql.NullString
	q := fmt.Sprintf(`SELECT "%s" FROM "%s" WHERE "_key" = ?`, column, table)
	require.NoError(t, db.raw.QueryRow(q, key).Scan(&v))
	if !v.Valid {
		return nil
	}
	return v.String
}

func source(t *testing.T, name string, cols []string, rows ...tabular.Row) *tabular.Source {
	t.Helper()
	src, err := tabular.New(name, cols, rows)
	require.NoError(t, err)
	return src
}

// clsArc builds an 83-row three-column dialogue file keyed "0".."82".
// jpAt maps a key to the text placed in column "1" of the Japanese copy.
func clsArc(t *testing.T, jpAt map[int]string) (eng, jp *tabular.Source) {
	t.Helper()
	cols := []string{"key", "0", "1"}
	var engRows, jpRows []tabular.Row
	for k := 0; k < 83; k++ {
		key := strconv.Itoa(k)
		engRows = append(engRows, tabular.Row{key, "Speaker " + key, "Line " + key})
		jpLine := any("Line " + key)
		if text, ok := jpAt[k]; ok {
			jpLine = text
		}
		jpRows = append(jpRows, tabular.Row{key, "Speaker " + key, jpLine})
	}
	return source(t, "eng/ClsArc000_00021.csv", cols, engRows...),
		source(t, "jp/ClsArc000_00021.csv", cols, jpRows...)
}

func TestLoadBaseline_CreatesTextTableAndInsertsRows(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	src := source(t, "x.csv", []string{"key", "0", "Speaker Name"},
		tabular.Row{"1", "hello", nil},
		tabular.Row{"2", nil, "Aria"},
	)
	st := db.baseline(t, "Dlg", src)

	assert.Equal(t, int64(2), st.Inserted)
	assert.Equal(t, []string{"_key", "_0", "_Speaker_Name"}, db.columns(t, "Dlg"))
	assert.Equal(t, "hello", db.cell(t, "Dlg", "_0", "1"))
	assert.Nil(t, db.cell(t, "Dlg", "_Speaker_Name", "1"))
	assert.Equal(t, "Aria", db.cell(t, "Dlg", "_Speaker_Name", "2"))
}

func TestLoadBaseline_ReplacesExistingTable(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	db.baseline(t, "dlg", source(t, "a.csv", []string{"key", "old"}, tabular.Row{"1", "x"}, tabular.Row{"2", "y"}))
	db.baseline(t, "dlg", source(t, "b.csv", []string{"key", "new"}, tabular.Row{"9", "z"}))

	assert.Equal(t, []string{"_key", "_new"}, db.columns(t, "dlg"))
	assert.Equal(t, 1, db.count(t, "dlg"))
}

func TestLoadBaseline_CountsDuplicateKeys(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	st := db.baseline(t, "dup", source(t, "d.csv", []string{"key", "0"},
		tabular.Row{"#comment", "x"},
		tabular.Row{"#comment", "y"},
		tabular.Row{"7", "a"},
		tabular.Row{"7", "b"},
		tabular.Row{"8", "c"},
	))
	assert.Equal(t, 1, st.DuplicateKeys)
	assert.Equal(t, int64(5), st.Inserted)
}

func TestLoadBaseline_RejectsColumnCollisions(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	_, err := db.inSession(t, func(sess storage.Session) (Stats, error) {
		src := source(t, "c.csv", []string{"key", "a b", "a-b"}, tabular.Row{"1", "x", "y"})
		return LoadBaseline(context.Background(), sess, "c", src, Options{})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `both map to "_a_b"`)
}

func TestMergeImport_ClsArcScenario(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	eng, jp := clsArc(t, map[int]string{26: "ありがとう、旅の人。"})
	db.baseline(t, "ClsArc000_00021", eng)

	st, err := db.merge(t, "ClsArc000_00021", jp, Options{})
	require.NoError(t, err)

	assert.Equal(t, 83, db.count(t, "ClsArc000_00021"))
	assert.Equal(t, []string{"_key", "_0", "_1", "_1_JP"}, db.columns(t, "ClsArc000_00021"))
	assert.Equal(t, "ありがとう、旅の人。", db.cell(t, "ClsArc000_00021", "_1_JP", "26"))
	assert.Equal(t, "Line 26", db.cell(t, "ClsArc000_00021", "_1", "26"), "baseline text is untouched")
	assert.Nil(t, db.cell(t, "ClsArc000_00021", "_1_JP", "25"))
	assert.Nil(t, db.cell(t, "ClsArc000_00021", "_1_JP", "27"))

	assert.Equal(t, int64(1), st.Updated)
	assert.Equal(t, 1, st.ShadowColumnsAdded)
	assert.Equal(t, 82, st.NoJapanese)
	assert.Equal(t, 0, st.Orphans)
}

func TestMergeImport_PartialQualification(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	cols := []string{"key", "0", "1", "2"}
	db.baseline(t, "p", source(t, "eng.csv", cols, tabular.Row{"5", "a", "b", "c"}))

	st, err := db.merge(t, "p", source(t, "jp.csv", cols, tabular.Row{"5", "こんにちは", "Hello", "漢字"}), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"_key", "_0", "_1", "_2", "_0_JP", "_2_JP"}, db.columns(t, "p"))
	assert.Equal(t, "こんにちは", db.cell(t, "p", "_0_JP", "5"))
	assert.Equal(t, "漢字", db.cell(t, "p", "_2_JP", "5"))
	assert.Equal(t, "b", db.cell(t, "p", "_1", "5"))
	assert.Equal(t, 2, st.ShadowColumnsAdded)
}

func TestMergeImport_ReusesExistingShadowColumns(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	cols := []string{"key", "0"}
	db.baseline(t, "r", source(t, "eng.csv", cols, tabular.Row{"1", "a"}, tabular.Row{"2", "b"}))

	jp := source(t, "jp.csv", cols, tabular.Row{"1", "一"}, tabular.Row{"2", "二"})
	first, err := db.merge(t, "r", jp, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.ShadowColumnsAdded, "second row reuses the column the first row added")
	assert.Equal(t, int64(2), first.Updated)

	second, err := db.merge(t, "r", jp, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.ShadowColumnsAdded)
	assert.Equal(t, []string{"_key", "_0", "_0_JP"}, db.columns(t, "r"))
}

func TestMergeImport_SkipsCommentsAndMarkerOnlyCells(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	cols := []string{"key", "0", "1"}
	db.baseline(t, "s", source(t, "eng.csv", cols,
		tabular.Row{"#header", "x", "y"},
		tabular.Row{"1", "a", "b"},
		tabular.Row{"2", "c", "d"},
	))

	jp := source(t, "jp.csv", cols,
		tabular.Row{"#ヘッダー", "日本語", "y"},
		tabular.Row{"1", script.Placeholder, nil},
		tabular.Row{"2", "Old" + script.Placeholder + "新しい", nil},
	)
	st, err := db.merge(t, "s", jp, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, st.Comments)
	assert.Equal(t, 1, st.NoJapanese)
	assert.Equal(t, int64(1), st.Updated)
	assert.Nil(t, db.cell(t, "s", "_0_JP", "1"))
	assert.Equal(t, "Old"+script.Placeholder+"新しい", db.cell(t, "s", "_0_JP", "2"), "raw value is stored, marker included")
	assert.Equal(t, []string{"_key", "_0", "_1", "_0_JP"}, db.columns(t, "s"))
}

func TestMergeImport_NoJapaneseNeverTouchesCatalog(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	st, err := db.merge(t, "absent", source(t, "jp.csv", []string{"key", "0"}, tabular.Row{"1", "plain"}), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, st.NoJapanese)
	assert.Empty(t, db.columns(t, "absent"))
}

func TestMergeImport_TableMissing(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	_, err := db.merge(t, "absent", source(t, "jp.csv", []string{"key", "0"}, tabular.Row{"1", "日本"}), Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTableMissing))
	assert.True(t, IsConfigError(err))
}

func TestMergeImport_OrphanPolicies(t *testing.T) {
	t.Parallel()

	cols := []string{"key", "0"}
	eng := []tabular.Row{{"1", "a"}}
	jp := []tabular.Row{{"1", "あ"}, {"999", "い"}}

	for _, tc := range []struct {
		policy  OrphanPolicy
		wantErr bool
	}{
		{OrphanIgnore, false},
		{OrphanWarn, false},
		{OrphanError, true},
	} {
		tc := tc
		t.Run(string(tc.policy), func(t *testing.T) {
			t.Parallel()
			db := newTestDB(t)
			db.baseline(t, "o", source(t, "eng.csv", cols, eng...))

			st, err := db.merge(t, "o", source(t, "jp.csv", cols, jp...), Options{OrphanPolicy: tc.policy})
			assert.Equal(t, 1, st.Orphans)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrOrphanKey)
				assert.False(t, IsConfigError(err))
				assert.Equal(t, []string{"_key", "_0"}, db.columns(t, "o"), "failed file is rolled back")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1, db.count(t, "o"), "orphans never insert rows")
			assert.Equal(t, "あ", db.cell(t, "o", "_0_JP", "1"))
		})
	}
}

func TestMergeImport_DuplicatePolicies(t *testing.T) {
	t.Parallel()

	cols := []string{"key", "0"}
	eng := []tabular.Row{{"7", "a"}, {"7", "b"}}
	jp := []tabular.Row{{"7", "七"}}

	db := newTestDB(t)
	db.baseline(t, "d", source(t, "eng.csv", cols, eng...))
	st, err := db.merge(t, "d", source(t, "jp.csv", cols, jp...), Options{DuplicatePolicy: DuplicatesAll})
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Updated)

	db2 := newTestDB(t)
	db2.baseline(t, "d", source(t, "eng.csv", cols, eng...))
	_, err = db2.merge(t, "d", source(t, "jp.csv", cols, jp...), Options{DuplicatePolicy: DuplicatesReject})
	require.ErrorIs(t, err, ErrDuplicateKey)
}

func TestMergeImport_NamedLabels(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	cols := []string{"key", "Speaker Name", "Line.1"}
	db.baseline(t, "n", source(t, "eng.csv", cols, tabular.Row{"1", "Aria", "Hi"}))

	_, err := db.merge(t, "n", source(t, "jp.csv", cols, tabular.Row{"1", "アリア", "やあ"}), Options{})
	require.NoError(t, err)
	assert.Equal(t, "アリア", db.cell(t, "n", "_Speaker_Name_JP", "1"))
	assert.Equal(t, "やあ", db.cell(t, "n", "_Line_1_JP", "1"))
}

func TestParsePolicies(t *testing.T) {
	t.Parallel()

	p, err := ParseOrphanPolicy(" ERROR ")
	require.NoError(t, err)
	assert.Equal(t, OrphanError, p)
	p, err = ParseOrphanPolicy("")
	require.NoError(t, err)
	assert.Equal(t, OrphanWarn, p)
	_, err = ParseOrphanPolicy("drop")
	assert.Error(t, err)

	d, err := ParseDuplicatePolicy("reject")
	require.NoError(t, err)
	assert.Equal(t, DuplicatesReject, d)
	d, err = ParseDuplicatePolicy("")
	require.NoError(t, err)
	assert.Equal(t, DuplicatesAll, d)
	_, err = ParseDuplicatePolicy("first")
	assert.Error(t, err)
}

func TestIsConfigError(t *testing.T) {
	t.Parallel()

	assert.True(t, IsConfigError(fmt.Errorf("x: %w", ErrTableMissing)))
	assert.True(t, IsConfigError(fmt.Errorf("x: %w", discovery.ErrUnsupportedLanguage)))
	assert.True(t, IsConfigError(fmt.Errorf("x: %w", storage.ErrUnsupportedKind)))
	assert.False(t, IsConfigError(ErrOrphanKey))
	assert.False(t, IsConfigError(errors.New("connection refused")))
}
