// Package twin implements the Twin Registry.
//
// A twin groups entity references (for example the plants of a garden)
// and carries a list of attached named services with per-attachment
// configuration. Twins own no entity data; deleting a twin leaves its
// entities in place and cascading is left to the caller.
//
// Services come from a closed set (see the Service* constants). The
// Catalog maps each name to an implementation, and InstantiateService
// builds and configures one from a twin's stored attachment:
//
//	svc, err := registry.InstantiateService(ctx, gardenID, twin.ServiceGardenStatus)
//	if err != nil {
//	    return err
//	}
//	result, err := svc.Execute(ctx, twin.Request{Twin: t, Entities: plants})
package twin
