package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pixelgraph/photoslib/photos"
)

func itemIDs(items []photos.MediaItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

func fixtureItems() []photos.MediaItem {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return []photos.MediaItem{
		{ID: "a", Filename: "IMG_0003.jpg", CreationTime: base.Add(2 * time.Hour)},
		{ID: "b", Filename: "IMG_0001.jpg", CreationTime: base},
		{ID: "c", Filename: "IMG_0002.jpg", CreationTime: base.Add(time.Hour)},
		{ID: "d", Filename: "IMG_0004.jpg", CreationTime: base.Add(2 * time.Hour)},
		{ID: "e", Filename: "IMG_0000.jpg", CreationTime: base.Add(3 * time.Hour)},
	}
}

func TestSortByCreationTime(t *testing.T) {
	items := fixtureItems()

	out, err := Apply(items, Ordering{Criteria: ByCreationTime, Direction: Asc}, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c", "a", "d", "e"}, itemIDs(out))

	out, err = Apply(items, Ordering{Criteria: ByCreationTime, Direction: Desc}, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"e", "a", "d", "c", "b"}, itemIDs(out))

	// Input order is untouched.
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, itemIDs(items))
}

func TestSortStability(t *testing.T) {
	// Items a and d share a timestamp. Their fetch order must survive the
	// sort in both directions.
	items := fixtureItems()

	out, err := Apply(items, Ordering{Criteria: ByCreationTime, Direction: Asc}, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c", "a", "d", "e"}, itemIDs(out))

	out, err = Apply(items, Ordering{Criteria: ByCreationTime, Direction: Desc}, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"e", "a", "d", "c", "b"}, itemIDs(out))
}

func TestSortByFilename(t *testing.T) {
	out, err := Apply(fixtureItems(), Ordering{Criteria: ByFilename, Direction: Asc}, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"e", "b", "c", "a", "d"}, itemIDs(out))
}

func TestTruncateAfterOrdering(t *testing.T) {
	// A descending sort with a limit keeps the newest items, not the
	// first fetched ones.
	out, err := Apply(fixtureItems(), Ordering{Criteria: ByCreationTime, Direction: Desc}, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"e", "a"}, itemIDs(out))
}

func TestRandomSeeded(t *testing.T) {
	items := fixtureItems()

	first, err := ApplySeeded(items, Ordering{Direction: Random}, 0, 42)
	require.NoError(t, err)
	second, err := ApplySeeded(items, Ordering{Direction: Random}, 0, 42)
	require.NoError(t, err)
	require.Equal(t, itemIDs(first), itemIDs(second))
	require.ElementsMatch(t, itemIDs(items), itemIDs(first))
}

func TestRandomCoversAllItems(t *testing.T) {
	items := fixtureItems()

	// Over many seeded permutations every item should show up at every
	// rank, or the shuffle is biased toward some positions.
	seen := map[string]map[int]bool{}
	for _, item := range items {
		seen[item.ID] = map[int]bool{}
	}
	for seed := int64(0); seed < 1000; seed++ {
		out, err := ApplySeeded(items, Ordering{Direction: Random}, 0, seed)
		require.NoError(t, err)
		require.Len(t, out, len(items))
		for rank, item := range out {
			seen[item.ID][rank] = true
		}
	}
	for id, ranks := range seen {
		require.Len(t, ranks, len(items), "item %s never reached some rank", id)
	}
}

func TestOrderingDefaults(t *testing.T) {
	ord := Ordering{}
	require.NoError(t, ord.CheckAndSetDefaults())
	require.Equal(t, ByCreationTime, ord.Criteria)
	require.Equal(t, Desc, ord.Direction)

	require.Error(t, (&Ordering{Criteria: "size"}).CheckAndSetDefaults())
	require.Error(t, (&Ordering{Direction: "up"}).CheckAndSetDefaults())
}
