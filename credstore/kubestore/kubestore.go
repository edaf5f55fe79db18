// Package kubestore provides a credstore.Store backed by Kubernetes Secrets,
// one Secret per partition. It is meant for workloads (sidecars, CLIs running
// in a pod) whose session must survive restarts without a dedicated database.
//
// Expiry is not supported; WithTTL is ignored. The access control passed to
// Put is recorded as an annotation.
package kubestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/ggoodman/authsession-go/credstore"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

const (
	dataIdentity = "identity"
	dataToken    = "token"

	annotationPartition = "authsession.ggoodman.dev/partition"
	annotationAccess    = "authsession.ggoodman.dev/access"
	annotationStoredAt  = "authsession.ggoodman.dev/stored-at"

	labelManagedBy = "app.kubernetes.io/managed-by"
	managedBy      = "authsession"

	defaultNamePrefix = "authsession"
)

type Store struct {
	clientset  kubernetes.Interface
	namespace  string
	namePrefix string
	logger     *slog.Logger
}

// NewInCluster builds a Store from the pod's service account.
func NewInCluster(namespace, namePrefix string, logger *slog.Logger) (*Store, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("kubestore: in-cluster config: %w", err)
	}
	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("kubestore: clientset: %w", err)
	}
	return NewWithClientset(cs, namespace, namePrefix, logger), nil
}

// NewWithClientset creates a Store with a caller-supplied clientset.
func NewWithClientset(cs kubernetes.Interface, namespace, namePrefix string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if namespace == "" {
		namespace = metav1.NamespaceDefault
	}
	if namePrefix == "" {
		namePrefix = defaultNamePrefix
	}
	return &Store{clientset: cs, namespace: namespace, namePrefix: namePrefix, logger: logger}
}

// secretName maps a partition to a valid Secret name. Partitions that are not
// DNS-1123 compatible are hashed; the original name is kept in an annotation.
func (s *Store) secretName(partition string) string {
	name := s.namePrefix + "-" + partition
	if len(validation.IsDNS1123Subdomain(name)) == 0 {
		return name
	}
	sum := sha256.Sum256([]byte(partition))
	return s.namePrefix + "-p" + hex.EncodeToString(sum[:8])
}

func (s *Store) Put(ctx context.Context, partition string, cred credstore.Credential, opts ...credstore.PutOption) error {
	if err := credstore.Validate(partition, &cred); err != nil {
		return err
	}
	o := credstore.ApplyPutOptions(opts...)
	name := s.secretName(partition)
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: s.namespace,
			Labels:    map[string]string{labelManagedBy: managedBy},
			Annotations: map[string]string{
				annotationPartition: partition,
				annotationAccess:    string(o.Access),
				annotationStoredAt:  time.Now().UTC().Format(time.RFC3339Nano),
			},
		},
		Type: corev1.SecretTypeOpaque,
		Data: map[string][]byte{
			dataIdentity: []byte(cred.Identity),
			dataToken:    []byte(cred.Token),
		},
	}

	secrets := s.clientset.CoreV1().Secrets(s.namespace)
	existing, err := secrets.Get(ctx, name, metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
		_, err = secrets.Create(ctx, secret, metav1.CreateOptions{})
		if err != nil {
			return fmt.Errorf("kubestore put %q: create secret: %w", partition, err)
		}
	case err != nil:
		return fmt.Errorf("kubestore put %q: get secret: %w", partition, err)
	default:
		secret.ResourceVersion = existing.ResourceVersion
		if _, err := secrets.Update(ctx, secret, metav1.UpdateOptions{}); err != nil {
			return fmt.Errorf("kubestore put %q: update secret: %w", partition, err)
		}
	}
	s.logger.DebugContext(ctx, "credential secret written",
		slog.String("namespace", s.namespace),
		slog.String("secret", name))
	return nil
}

func (s *Store) Get(ctx context.Context, partition string) (*credstore.Credential, error) {
	if err := credstore.Validate(partition, nil); err != nil {
		return nil, err
	}
	secret, err := s.clientset.CoreV1().Secrets(s.namespace).Get(ctx, s.secretName(partition), metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, credstore.ErrNotFound
		}
		return nil, fmt.Errorf("kubestore get %q: %w", partition, err)
	}
	tok, ok := secret.Data[dataToken]
	if !ok || len(tok) == 0 {
		return nil, fmt.Errorf("kubestore get %q: secret has no token", partition)
	}
	cred := &credstore.Credential{
		Identity: string(secret.Data[dataIdentity]),
		Token:    string(tok),
		Access:   credstore.AccessControl(secret.Annotations[annotationAccess]),
	}
	if ts, err := time.Parse(time.RFC3339Nano, secret.Annotations[annotationStoredAt]); err == nil {
		cred.StoredAt = ts
	}
	return cred, nil
}

func (s *Store) Erase(ctx context.Context, partition string) error {
	if err := credstore.Validate(partition, nil); err != nil {
		return err
	}
	err := s.clientset.CoreV1().Secrets(s.namespace).Delete(ctx, s.secretName(partition), metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("kubestore erase %q: %w", partition, err)
	}
	return nil
}

func (s *Store) Close() error { return nil }

// Interface compliance
var _ credstore.Store = (*Store)(nil)
