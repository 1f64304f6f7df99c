// Package mongodb stores users, files and versions in MongoDB. Every write
// is a client-side multi-document transaction run through a juju/txn
// runner, so file and version documents always change together.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/juju/mgo/v3"
	"github.com/juju/mgo/v3/bson"
	"github.com/juju/mgo/v3/txn"
	jujutxn "github.com/juju/txn/v3"

	"fileflow/internal/fileflow"
	"fileflow/internal/model"
)

// Collection names.
const (
	usersC    = "users"
	emailsC   = "emails"
	filesC    = "files"
	versionsC = "versions"
)

type userDoc struct {
	DocID        string    `bson:"_id"`
	Email        string    `bson:"email"`
	PasswordHash string    `bson:"passwordhash"`
	FullName     string    `bson:"fullname"`
	AvatarURL    string    `bson:"avatarurl,omitempty"`
	CreatedAt    time.Time `bson:"createdat"`
	UpdatedAt    time.Time `bson:"updatedat"`
}

// emailDoc reserves an email address. Its id is the lowercase email, so a
// DocMissing assert on it enforces uniqueness inside a transaction.
type emailDoc struct {
	DocID  string `bson:"_id"`
	UserID string `bson:"userid"`
}

type fileDoc struct {
	DocID      string    `bson:"_id"`
	Name       string    `bson:"name"`
	Size       int64     `bson:"size"`
	Type       string    `bson:"type"`
	Path       string    `bson:"path"`
	OwnerID    string    `bson:"ownerid"`
	CreatedAt  time.Time `bson:"createdat"`
	UpdatedAt  time.Time `bson:"updatedat"`
	Shared     bool      `bson:"shared"`
	SharedWith []string  `bson:"sharedwith"`
	Favorite   bool      `bson:"favorite"`
	Tags       []string  `bson:"tags"`
	Encrypted  bool      `bson:"encrypted"`

	// LatestVersion is asserted by every version append so concurrent
	// appends cannot both claim the same number.
	LatestVersion int `bson:"latestversion"`
}

type versionDoc struct {
	DocID       string    `bson:"_id"`
	ID          string    `bson:"id"`
	FileID      string    `bson:"fileid"`
	Number      int       `bson:"number"`
	CreatedAt   time.Time `bson:"createdat"`
	CreatedBy   string    `bson:"createdby"`
	Changes     string    `bson:"changes"`
	StoragePath string    `bson:"storagepath"`
	Size        int64     `bson:"size"`
	Checksum    string    `bson:"checksum"`
}

func versionDocID(fileID string, number int) string {
	return fmt.Sprintf("%s#%d", fileID, number)
}

func newFileDoc(f *model.File, latest int) *fileDoc {
	return &fileDoc{
		DocID: f.ID, Name: f.Name, Size: f.Size, Type: f.Type, Path: f.Path, OwnerID: f.OwnerID,
		CreatedAt: f.CreatedAt, UpdatedAt: f.UpdatedAt, Shared: f.Shared,
		SharedWith: append([]string{}, f.SharedWith...), Favorite: f.Favorite,
		Tags: append([]string{}, f.Tags...), Encrypted: f.Encrypted, LatestVersion: latest,
	}
}

func (d *fileDoc) toModel() *model.File {
	f := &model.File{
		ID: d.DocID, Name: d.Name, Size: d.Size, Type: d.Type, Path: d.Path, OwnerID: d.OwnerID,
		CreatedAt: d.CreatedAt.UTC(), UpdatedAt: d.UpdatedAt.UTC(), Shared: d.Shared,
		SharedWith: d.SharedWith, Favorite: d.Favorite, Tags: d.Tags, Encrypted: d.Encrypted,
	}
	if f.SharedWith == nil {
		f.SharedWith = []string{}
	}
	if f.Tags == nil {
		f.Tags = []string{}
	}
	return f
}

// mutableFields is the $set document for a file update.
func mutableFields(f *model.File) bson.D {
	return bson.D{
		{Name: "name", Value: f.Name}, {Name: "size", Value: f.Size}, {Name: "type", Value: f.Type}, {Name: "path", Value: f.Path},
		{Name: "updatedat", Value: f.UpdatedAt}, {Name: "shared", Value: f.Shared}, {Name: "sharedwith", Value: append([]string{}, f.SharedWith...)},
		{Name: "favorite", Value: f.Favorite}, {Name: "tags", Value: append([]string{}, f.Tags...)}, {Name: "encrypted", Value: f.Encrypted},
	}
}

func newVersionDoc(v *model.Version) *versionDoc {
	return &versionDoc{
		DocID: versionDocID(v.FileID, v.Number), ID: v.ID, FileID: v.FileID, Number: v.Number,
		CreatedAt: v.CreatedAt, CreatedBy: v.CreatedBy, Changes: v.Changes, StoragePath: v.StoragePath,
		Size: v.Size, Checksum: v.Checksum,
	}
}

func (d *versionDoc) toModel() *model.Version {
	return &model.Version{
		ID: d.ID, FileID: d.FileID, Number: d.Number, CreatedAt: d.CreatedAt.UTC(), CreatedBy: d.CreatedBy,
		Changes: d.Changes, StoragePath: d.StoragePath, Size: d.Size, Checksum: d.Checksum,
	}
}

// MongoStore implements fileflow.AtomicStore on MongoDB.
type MongoStore struct {
	session *mgo.Session
	db      *mgo.Database
	runner  jujutxn.Runner
}

var _ fileflow.AtomicStore = (*MongoStore)(nil)

// NewMongoStore dials url and prepares indexes in database dbName.
func NewMongoStore(url, dbName string) (*MongoStore, error) {
	session, err := mgo.DialWithTimeout(url, 10*time.Second)
	if err != nil {
		return nil, errors.Annotatef(err, "dialing %s", url)
	}
	db := session.DB(dbName)

	indexes := []struct {
		c   string
		idx mgo.Index
	}{
		{filesC, mgo.Index{Key: []string{"ownerid"}}},
		{filesC, mgo.Index{Key: []string{"sharedwith"}}},
		{versionsC, mgo.Index{Key: []string{"fileid", "number"}, Unique: true}},
	}
	for _, ix := range indexes {
		if err := db.C(ix.c).EnsureIndex(ix.idx); err != nil {
			session.Close()
			return nil, errors.Annotatef(err, "creating index on %s", ix.c)
		}
	}

	return &MongoStore{
		session: session,
		db:      db,
		runner:  jujutxn.NewRunner(jujutxn.RunnerParams{Database: db}),
	}, nil
}

// User operations

func (s *MongoStore) CreateUser(_ context.Context, user *model.User) error {
	buildTxn := func(attempt int) ([]txn.Op, error) {
		if attempt > 0 {
			if n, err := s.db.C(emailsC).FindId(user.Email).Count(); err != nil {
				return nil, errors.Trace(err)
			} else if n > 0 {
				return nil, fmt.Errorf("user %s: %w", user.Email, fileflow.ErrAlreadyExists)
			}
		}
		return []txn.Op{{
			C:      emailsC,
			Id:     user.Email,
			Assert: txn.DocMissing,
			Insert: &emailDoc{DocID: user.Email, UserID: user.ID},
		}, {
			C:      usersC,
			Id:     user.ID,
			Assert: txn.DocMissing,
			Insert: &userDoc{
				DocID: user.ID, Email: user.Email, PasswordHash: user.PasswordHash, FullName: user.FullName,
				AvatarURL: user.AvatarURL, CreatedAt: user.CreatedAt, UpdatedAt: user.UpdatedAt,
			},
		}}, nil
	}
	return errors.Annotatef(s.runner.Run(buildTxn), "creating user %s", user.Email)
}

func (s *MongoStore) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var doc emailDoc
	err := s.db.C(emailsC).FindId(email).One(&doc)
	if err == mgo.ErrNotFound {
		return nil, nil
	} else if err != nil {
		return nil, errors.Annotatef(err, "finding email %s", email)
	}
	return s.FindUserByID(ctx, doc.UserID)
}

func (s *MongoStore) FindUserByID(_ context.Context, id string) (*model.User, error) {
	var doc userDoc
	err := s.db.C(usersC).FindId(id).One(&doc)
	if err == mgo.ErrNotFound {
		return nil, nil
	} else if err != nil {
		return nil, errors.Annotatef(err, "finding user %s", id)
	}
	return &model.User{
		ID: doc.DocID, Email: doc.Email, PasswordHash: doc.PasswordHash, FullName: doc.FullName,
		AvatarURL: doc.AvatarURL, CreatedAt: doc.CreatedAt.UTC(), UpdatedAt: doc.UpdatedAt.UTC(),
	}, nil
}

// File operations

func (s *MongoStore) InsertFile(_ context.Context, file *model.File) error {
	ops := []txn.Op{{
		C:      filesC,
		Id:     file.ID,
		Assert: txn.DocMissing,
		Insert: newFileDoc(file, 0),
	}}
	return errors.Annotatef(s.runner.Run(staticOps(ops)), "inserting file %s", file.ID)
}

func (s *MongoStore) findFileDoc(id string) (*fileDoc, error) {
	var doc fileDoc
	err := s.db.C(filesC).FindId(id).One(&doc)
	if err == mgo.ErrNotFound {
		return nil, nil
	} else if err != nil {
		return nil, errors.Annotatef(err, "finding file %s", id)
	}
	return &doc, nil
}

func (s *MongoStore) FindFile(_ context.Context, id string) (*model.File, error) {
	doc, err := s.findFileDoc(id)
	if err != nil || doc == nil {
		return nil, err
	}
	return doc.toModel(), nil
}

func (s *MongoStore) UpdateFile(_ context.Context, file *model.File) error {
	buildTxn := func(attempt int) ([]txn.Op, error) {
		if attempt > 0 {
			if doc, err := s.findFileDoc(file.ID); err != nil {
				return nil, err
			} else if doc == nil {
				return nil, fmt.Errorf("file %s: %w", file.ID, fileflow.ErrNotFound)
			}
		}
		return []txn.Op{{
			C:      filesC,
			Id:     file.ID,
			Assert: txn.DocExists,
			Update: bson.D{{Name: "$set", Value: mutableFields(file)}},
		}}, nil
	}
	return errors.Annotatef(s.runner.Run(buildTxn), "updating file %s", file.ID)
}

func (s *MongoStore) ListVisibleFiles(_ context.Context, userID string) ([]*model.File, error) {
	var docs []fileDoc
	query := bson.M{"$or": []bson.M{{"ownerid": userID}, {"sharedwith": userID}}}
	if err := s.db.C(filesC).Find(query).All(&docs); err != nil {
		return nil, errors.Annotatef(err, "listing files visible to %s", userID)
	}
	files := make([]*model.File, len(docs))
	for i := range docs {
		files[i] = docs[i].toModel()
	}
	return files, nil
}

func (s *MongoStore) DeleteFiles(_ context.Context, ids []string) (int, error) {
	var n int
	buildTxn := func(int) ([]txn.Op, error) {
		docs, err := s.existingFiles(ids)
		if err != nil {
			return nil, err
		}
		n = len(docs)
		if n == 0 {
			return nil, jujutxn.ErrNoOperations
		}
		ops := make([]txn.Op, 0, len(docs))
		for _, d := range docs {
			ops = append(ops, txn.Op{C: filesC, Id: d.DocID, Assert: txn.DocExists, Remove: true})
		}
		return ops, nil
	}
	if err := s.runner.Run(buildTxn); err != nil {
		return 0, errors.Annotate(err, "deleting files")
	}
	return n, nil
}

func (s *MongoStore) existingFiles(ids []string) ([]fileDoc, error) {
	var docs []fileDoc
	err := s.db.C(filesC).Find(bson.M{"_id": bson.M{"$in": ids}}).All(&docs)
	if err != nil {
		return nil, errors.Annotate(err, "finding files")
	}
	return docs, nil
}

// Version operations

func (s *MongoStore) InsertVersion(_ context.Context, version *model.Version) error {
	buildTxn := func(attempt int) ([]txn.Op, error) {
		if attempt > 0 {
			n, err := s.db.C(versionsC).FindId(versionDocID(version.FileID, version.Number)).Count()
			if err != nil {
				return nil, errors.Trace(err)
			}
			if n > 0 {
				return nil, fmt.Errorf("version %d of file %s: %w", version.Number, version.FileID, fileflow.ErrAlreadyExists)
			}
		}
		doc, err := s.findFileDoc(version.FileID)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, fmt.Errorf("file %s: %w", version.FileID, fileflow.ErrNotFound)
		}
		ops := []txn.Op{{
			C:      versionsC,
			Id:     versionDocID(version.FileID, version.Number),
			Assert: txn.DocMissing,
			Insert: newVersionDoc(version),
		}}
		if version.Number > doc.LatestVersion {
			ops = append(ops, txn.Op{
				C:      filesC,
				Id:     doc.DocID,
				Assert: bson.D{{Name: "latestversion", Value: doc.LatestVersion}},
				Update: bson.D{{Name: "$set", Value: bson.D{{Name: "latestversion", Value: version.Number}}}},
			})
		}
		return ops, nil
	}
	return errors.Annotatef(s.runner.Run(buildTxn), "inserting version %d of %s", version.Number, version.FileID)
}

func (s *MongoStore) ListVersions(_ context.Context, fileID string) ([]*model.Version, error) {
	var docs []versionDoc
	if err := s.db.C(versionsC).Find(bson.M{"fileid": fileID}).Sort("-number").All(&docs); err != nil {
		return nil, errors.Annotatef(err, "listing versions of %s", fileID)
	}
	versions := make([]*model.Version, len(docs))
	for i := range docs {
		versions[i] = docs[i].toModel()
	}
	return versions, nil
}

func (s *MongoStore) MaxVersionNumber(_ context.Context, fileID string) (int, error) {
	var doc versionDoc
	err := s.db.C(versionsC).Find(bson.M{"fileid": fileID}).Sort("-number").One(&doc)
	if err == mgo.ErrNotFound {
		return 0, nil
	} else if err != nil {
		return 0, errors.Annotatef(err, "finding latest version of %s", fileID)
	}
	return doc.Number, nil
}

func (s *MongoStore) DeleteVersionsForFiles(_ context.Context, fileIDs []string) error {
	buildTxn := func(int) ([]txn.Op, error) {
		ops, err := s.removeVersionOps(fileIDs)
		if err != nil {
			return nil, err
		}
		if len(ops) == 0 {
			return nil, jujutxn.ErrNoOperations
		}
		return ops, nil
	}
	return errors.Annotate(s.runner.Run(buildTxn), "deleting versions")
}

func (s *MongoStore) removeVersionOps(fileIDs []string) ([]txn.Op, error) {
	var docs []versionDoc
	err := s.db.C(versionsC).Find(bson.M{"fileid": bson.M{"$in": fileIDs}}).Select(bson.M{"_id": 1}).All(&docs)
	if err != nil {
		return nil, errors.Annotate(err, "finding versions")
	}
	ops := make([]txn.Op, 0, len(docs))
	for _, d := range docs {
		ops = append(ops, txn.Op{C: versionsC, Id: d.DocID, Assert: txn.DocExists, Remove: true})
	}
	return ops, nil
}

// Transactional operations

func (s *MongoStore) CreateFileWithVersion(_ context.Context, file *model.File, version *model.Version) error {
	ops := []txn.Op{{
		C:      filesC,
		Id:     file.ID,
		Assert: txn.DocMissing,
		Insert: newFileDoc(file, version.Number),
	}, {
		C:      versionsC,
		Id:     versionDocID(file.ID, version.Number),
		Assert: txn.DocMissing,
		Insert: newVersionDoc(version),
	}}
	err := s.runner.Run(staticOps(ops))
	return errors.Annotatef(err, "creating file %s", file.ID)
}

// AppendVersion reads the file's latest version counter and asserts it is
// unchanged at commit. The runner rebuilds the transaction when another
// writer got there first.
func (s *MongoStore) AppendVersion(_ context.Context, fileID string, build fileflow.VersionBuilder) (*model.Version, error) {
	var created *model.Version
	buildTxn := func(int) ([]txn.Op, error) {
		doc, err := s.findFileDoc(fileID)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, fmt.Errorf("file %s: %w", fileID, fileflow.ErrNotFound)
		}

		file := doc.toModel()
		v, err := build(file, doc.LatestVersion+1)
		if err != nil {
			return nil, err
		}
		created = v

		set := append(mutableFields(file), bson.DocElem{Name: "latestversion", Value: v.Number})
		return []txn.Op{{
			C:      filesC,
			Id:     fileID,
			Assert: bson.D{{Name: "latestversion", Value: doc.LatestVersion}},
			Update: bson.D{{Name: "$set", Value: set}},
		}, {
			C:      versionsC,
			Id:     versionDocID(fileID, v.Number),
			Assert: txn.DocMissing,
			Insert: newVersionDoc(v),
		}}, nil
	}
	if err := s.runner.Run(buildTxn); err != nil {
		return nil, errors.Annotatef(err, "appending version to %s", fileID)
	}
	return created, nil
}

// DeleteFilesCascade removes files and their versions in one transaction.
// Each file's version counter is asserted so a concurrent append aborts
// the delete instead of leaving an orphaned version behind.
func (s *MongoStore) DeleteFilesCascade(_ context.Context, ids []string) (int, error) {
	var n int
	buildTxn := func(int) ([]txn.Op, error) {
		docs, err := s.existingFiles(ids)
		if err != nil {
			return nil, err
		}
		n = len(docs)
		if n == 0 {
			return nil, jujutxn.ErrNoOperations
		}

		present := make([]string, 0, len(docs))
		ops := make([]txn.Op, 0, len(docs))
		for _, d := range docs {
			present = append(present, d.DocID)
			ops = append(ops, txn.Op{
				C:      filesC,
				Id:     d.DocID,
				Assert: bson.D{{Name: "latestversion", Value: d.LatestVersion}},
				Remove: true,
			})
		}
		versionOps, err := s.removeVersionOps(present)
		if err != nil {
			return nil, err
		}
		return append(ops, versionOps...), nil
	}
	if err := s.runner.Run(buildTxn); err != nil {
		return 0, errors.Annotate(err, "deleting files")
	}
	return n, nil
}

// staticOps runs a fixed set of operations. An aborted attempt is not
// retried because the same asserts would fail again.
func staticOps(ops []txn.Op) jujutxn.TransactionSource {
	return func(attempt int) ([]txn.Op, error) {
		if attempt > 0 {
			return nil, fmt.Errorf("%w: %v", fileflow.ErrAlreadyExists, txn.ErrAborted)
		}
		return ops, nil
	}
}

// Close closes the session.
func (s *MongoStore) Close() error {
	s.session.Close()
	return nil
}
