package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/alimasry/docupdater/model"
)

// FirestoreStore is a Firestore-backed implementation of Store. Docs live at
// projects/{projectID}/docs/{docID}.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

// firestoreDoc is the stored shape. Ranges are kept as a JSON string so that
// change and comment ids never have to be valid field paths.
type firestoreDoc struct {
	Lines                []string  `firestore:"lines"`
	Version              int64     `firestore:"version"`
	Ranges               string    `firestore:"ranges,omitempty"`
	ResolvedCommentIDs   []string  `firestore:"resolvedCommentIds,omitempty"`
	Pathname             string    `firestore:"pathname"`
	ProjectHistoryID     string    `firestore:"projectHistoryId,omitempty"`
	HistoryRangesSupport bool      `firestore:"historyRangesSupport"`
	LastUpdatedAt        time.Time `firestore:"lastUpdatedAt,omitempty"`
	LastUpdatedBy        string    `firestore:"lastUpdatedBy,omitempty"`
	LastOpened           time.Time `firestore:"lastOpened,omitempty"`
}

// NewFirestoreStore creates a new FirestoreStore using the given Firestore client.
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{
		client:     client,
		collection: "projects",
		now:        time.Now,
	}
}

func (s *FirestoreStore) docs(projectID string) *firestore.CollectionRef {
	return s.client.Collection(s.collection).Doc(projectID).Collection("docs")
}

func (s *FirestoreStore) docRef(projectID, docID string) *firestore.DocumentRef {
	return s.docs(projectID).Doc(docID)
}

func encodeRanges(r model.Ranges) (string, error) {
	if r.IsEmpty() {
		return "", nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal ranges: %w", err)
	}
	return string(b), nil
}

func (s *FirestoreStore) CreateDoc(ctx context.Context, projectID, docID string, doc *model.Document) error {
	ranges, err := encodeRanges(doc.Ranges)
	if err != nil {
		return err
	}
	_, err = s.docRef(projectID, docID).Create(ctx, firestoreDoc{
		Lines:                nonNilLines(doc.Lines),
		Version:              int64(doc.Version),
		Ranges:               ranges,
		ResolvedCommentIDs:   doc.ResolvedCommentIDs,
		Pathname:             doc.Pathname,
		ProjectHistoryID:     doc.ProjectHistoryID,
		HistoryRangesSupport: doc.HistoryRangesSupport,
		LastUpdatedAt:        doc.LastUpdatedAt,
		LastUpdatedBy:        doc.LastUpdatedBy,
	})
	if status.Code(err) == codes.AlreadyExists {
		return ErrExists
	}
	return err
}

func (s *FirestoreStore) GetDoc(ctx context.Context, projectID, docID string, opts GetOptions) (*model.Document, error) {
	ref := s.docRef(projectID, docID)
	snap, err := ref.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, model.NotFoundf("doc %s in project %s", docID, projectID)
	}
	if err != nil {
		return nil, err
	}
	doc, err := snapshotToDocument(snap)
	if err != nil {
		return nil, err
	}
	if !opts.Peek {
		if _, err := ref.Update(ctx, []firestore.Update{{Path: "lastOpened", Value: s.now()}}); err != nil {
			return nil, fmt.Errorf("mark doc %s opened: %w", docID, err)
		}
	}
	return doc, nil
}

func snapshotToDocument(snap *firestore.DocumentSnapshot) (*model.Document, error) {
	var stored firestoreDoc
	if err := snap.DataTo(&stored); err != nil {
		return nil, fmt.Errorf("decode doc %s: %w", snap.Ref.ID, err)
	}
	doc := &model.Document{
		Lines:                stored.Lines,
		Version:              int(stored.Version),
		ResolvedCommentIDs:   stored.ResolvedCommentIDs,
		Pathname:             stored.Pathname,
		ProjectHistoryID:     stored.ProjectHistoryID,
		HistoryRangesSupport: stored.HistoryRangesSupport,
		LastUpdatedAt:        stored.LastUpdatedAt,
		LastUpdatedBy:        stored.LastUpdatedBy,
	}
	if doc.Lines == nil {
		doc.Lines = []string{}
	}
	if stored.Ranges != "" {
		if err := json.Unmarshal([]byte(stored.Ranges), &doc.Ranges); err != nil {
			return nil, fmt.Errorf("invalid ranges field in doc %s: %w", snap.Ref.ID, err)
		}
	}
	return doc, nil
}

func (s *FirestoreStore) SetDoc(ctx context.Context, projectID, docID string, lines []string, version int, ranges model.Ranges, lastUpdatedAt time.Time, lastUpdatedBy string) error {
	encoded, err := encodeRanges(ranges)
	if err != nil {
		return err
	}
	var rangesValue any = encoded
	if encoded == "" {
		rangesValue = firestore.Delete
	}
	_, err = s.docRef(projectID, docID).Update(ctx, []firestore.Update{
		{Path: "lines", Value: nonNilLines(lines)},
		{Path: "version", Value: version},
		{Path: "ranges", Value: rangesValue},
		{Path: "lastUpdatedAt", Value: lastUpdatedAt},
		{Path: "lastUpdatedBy", Value: lastUpdatedBy},
	})
	if status.Code(err) == codes.NotFound {
		return model.NotFoundf("doc %s in project %s", docID, projectID)
	}
	return err
}

func (s *FirestoreStore) ListDocs(ctx context.Context, projectID string) ([]string, error) {
	iter := s.docs(projectID).OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	result := []string{}
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		result = append(result, snap.Ref.ID)
	}
	return result, nil
}
